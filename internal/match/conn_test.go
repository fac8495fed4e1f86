package match

import (
	"sync"
	"time"
)

// fakeConn records every message queued for a connection so tests can assert
// on exactly what a client would have received.
type fakeConn struct {
	id string

	mu   sync.Mutex
	msgs []Message
	dead bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return ErrTransportClosed
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) ofKind(kind string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.msgs {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) countOf(kind string) int {
	return len(c.ofKind(kind))
}

func (c *fakeConn) lastOfKind(kind string) (Message, bool) {
	msgs := c.ofKind(kind)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// testConfig keeps countdowns fast so state-machine tests finish in
// milliseconds instead of the production 3 seconds.
func testConfig() Config {
	return Config{
		CountdownTick: 20 * time.Millisecond,
		Arbiter:       NewArbiter(),
	}
}

const eventuallyTimeout = 2 * time.Second
