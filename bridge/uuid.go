package bridge

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fulldump/tightdb/dberr"
)

// UUID is the fixed 16 byte representation kept by the store.
type UUID [16]byte

func UUIDFromHost(u uuid.UUID) UUID {
	return UUID(u)
}

func (u UUID) Host() uuid.UUID {
	return uuid.UUID(u)
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("%w: uuid '%s': %s", dberr.ErrorEncoding, s, err.Error())
	}
	return UUID(u), nil
}
