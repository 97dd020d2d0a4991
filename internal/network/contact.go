package network

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kadhash/dht/internal/idkey"
)

// Contact is a routable peer descriptor: identity is by NodeID, LastSeen is
// the wall-clock instant this node last observed any activity from it.
type Contact struct {
	NodeID   idkey.ID
	Address  string
	Port     uint32
	LastSeen time.Time
}

// Addr formats the contact's dialable address.
func (c Contact) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Equal reports identity equality: same NodeID.
func (c Contact) Equal(other Contact) bool {
	return c.NodeID == other.NodeID
}

// Touch returns a copy of the contact with LastSeen set to now, using the
// supplied clock so maintenance-loop tests can control time deterministically.
func (c Contact) Touch(clk clock.Clock) Contact {
	c.LastSeen = clk.Now()
	return c
}
