package oru

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string. Ids generated on the same
// device sort in creation order under plain lexicographic comparison of
// their canonical string encoding; no coordination between devices is
// required, and collisions across devices are astronomically improbable.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", newStorageError("idgen", err)
	}
	return id.String(), nil
}

// mustNewID returns NewID's id and panics if NewID fails. The write path
// does not use it: it calls NewID and propagates the error.
func mustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}
