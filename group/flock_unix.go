//go:build unix

package group

import (
	"os"
	"syscall"
)

type flock struct {
	file *os.File
}

func openFileLock(name string) (fileLock, error) {
	file, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	return &flock{file: file}, nil
}

func (l *flock) TryLock() (bool, error) {
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == syscall.EWOULDBLOCK {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *flock) Unlock() error {
	return syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
}

func (l *flock) Close() error {
	return l.file.Close()
}
