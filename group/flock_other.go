//go:build !unix

package group

// Without flock only writers of the same process are serialized.
type noLock struct{}

func openFileLock(name string) (fileLock, error) {
	return noLock{}, nil
}

func (noLock) TryLock() (bool, error) { return true, nil }
func (noLock) Unlock() error          { return nil }
func (noLock) Close() error           { return nil }
