package mongofiles

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// IDGenerator returns a new upload identifier. Identifiers must be unique
// across concurrent uploads and are never reused.
type IDGenerator func() (string, error)

// UUIDGenerator generates random (version 4) UUIDs.
func UUIDGenerator() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Annotate(err, "generating upload id")
	}
	return id.String(), nil
}

const (
	randomIDChars  = "23456789ABCDEFGHJKLMNPQRSTWXYZabcdefghijkmnopqrstuvwxyz"
	randomIDLength = 17
)

// RandomIDGenerator generates 17 character identifiers drawn from an
// alphabet without look-alike characters, as used for Meteor document ids.
func RandomIDGenerator() (string, error) {
	// Bytes at or above this bound are rejected so every character is
	// equally likely.
	const bound = 256 - 256%len(randomIDChars)

	id := make([]byte, 0, randomIDLength)
	buf := make([]byte, randomIDLength*2)
	for len(id) < randomIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Annotate(err, "generating upload id")
		}
		for _, b := range buf {
			if int(b) >= bound {
				continue
			}
			id = append(id, randomIDChars[int(b)%len(randomIDChars)])
			if len(id) == randomIDLength {
				break
			}
		}
	}
	return string(id), nil
}
