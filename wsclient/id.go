package wsclient

import (
	"github.com/google/uuid"
)

const idAttempts = 32

// newID returns an operation id that is not currently active. The caller must
// hold c.mutex.
func (c *Client) newID() string {
	for i := 0; i < idAttempts; i++ {
		id := c.generateID()
		if id == "" {
			continue
		}

		if _, exists := c.subs[id]; !exists {
			return id
		}
	}

	// The configured generator keeps colliding; fall back to random ids.
	for {
		id := uuid.NewString()
		if _, exists := c.subs[id]; !exists {
			return id
		}
	}
}
