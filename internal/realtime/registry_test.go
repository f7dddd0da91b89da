package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/roadside-api/pkg/metrics"
)

type fakeConn struct {
	id string
	mu sync.Mutex
	in []Envelope
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(_ context.Context, env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in = append(f.in, env)
	return nil
}

func TestRegistryJoinLeave(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	r := NewRegistry(m)

	phone := &fakeConn{id: "c1"}
	laptop := &fakeConn{id: "c2"}
	r.Join("u1", phone)
	r.Join("u1", laptop)
	r.Join("u1", phone)

	assert.Equal(t, []string{"c1", "c2"}, r.IDsFor("u1"))
	assert.Len(t, r.ConnectionsFor("u1"), 2)
	assert.Equal(t, 2, r.Count())

	r.Leave("c1")
	assert.Equal(t, []string{"c2"}, r.IDsFor("u1"))

	// duplicate disconnect and unknown ids are no-ops
	r.Leave("c1")
	r.Leave("nope")
	assert.Equal(t, 1, r.Count())

	r.Leave("c2")
	assert.Empty(t, r.ConnectionsFor("u1"))
	assert.NotNil(t, r.ConnectionsFor("u1"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistryRejoinMovesConnection(t *testing.T) {
	r := NewRegistry(nil)
	c := &fakeConn{id: "c1"}

	r.Join("u1", c)
	r.Join("u2", c)

	assert.Empty(t, r.IDsFor("u1"))
	assert.Equal(t, []string{"c1"}, r.IDsFor("u2"))
	owner, ok := r.UserOf("c1")
	require.True(t, ok)
	assert.Equal(t, "u2", owner)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		id := fmt.Sprintf("c%d", i)
		go func() {
			defer wg.Done()
			r.Join("u1", &fakeConn{id: id})
		}()
		go func() {
			defer wg.Done()
			for _, c := range r.ConnectionsFor("u1") {
				assert.NotNil(t, c)
			}
		}()
		go func() {
			defer wg.Done()
			r.Leave(id)
		}()
	}
	wg.Wait()

	for _, id := range r.IDsFor("u1") {
		owner, ok := r.UserOf(id)
		assert.True(t, ok)
		assert.Equal(t, "u1", owner)
	}
	assert.Equal(t, len(r.IDsFor("u1")), r.Count())
}
