package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	fail   bool
	mu     sync.Mutex
	events []string
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, _ any) error {
	if c.fail {
		return errors.New("closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func TestRegistry_MultipleSessionsPerAgent(t *testing.T) {
	req := require.New(t)
	r := New()

	tab1 := &fakeConn{id: "s1"}
	tab2 := &fakeConn{id: "s2"}
	r.Register("AGT1", tab1)
	r.Register("AGT1", tab2)

	req.Len(r.Lookup("AGT1"), 2)
	req.Equal(1, r.Len())
	req.True(r.IsOnline("AGT1"))

	req.Equal(1, r.Unregister("AGT1", tab1))
	req.Equal(0, r.Unregister("AGT1", tab2))
	req.False(r.IsOnline("AGT1"))
	req.Equal(0, r.Unregister("AGT404", tab1))
	req.Empty(r.Lookup("AGT1"))
}

func TestRegistry_Deliver(t *testing.T) {
	r := New()
	ok := &fakeConn{id: "s1"}
	broken := &fakeConn{id: "s2", fail: true}
	r.Register("AGT1", ok)
	r.Register("AGT1", broken)

	assert.Equal(t, 1, r.Deliver("AGT1", "tagged", map[string]string{"roomId": "r"}))
	assert.Equal(t, []string{"tagged"}, ok.events)
	assert.Equal(t, 0, r.Deliver("AGT2", "tagged", nil))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{id: string(rune('a' + i%26))}
			r.Register("AGT1", c)
			r.Lookup("AGT1")
			r.Unregister("AGT1", c)
		}(i)
	}
	wg.Wait()

	r.Reset()
	assert.Equal(t, 0, r.Len())
}
