package eventbus

import (
	"crypto/rand"
	"io"
)

// newEntropySource returns the entropy reader used to seed monotonic
// ULID generation for event IDs.
func newEntropySource() io.Reader {
	return rand.Reader
}
