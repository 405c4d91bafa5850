package presence

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ id int }

func (c *fakeConn) Deliver(Event) error { return nil }

func TestRegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()
	conn := &fakeConn{id: 1}

	_, ok := r.Lookup(user)
	assert.False(t, ok)

	r.Register(user, conn)
	got, ok := r.Lookup(user)
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.True(t, r.Online(user))

	owner, ok := r.Unregister(conn)
	assert.True(t, ok)
	assert.Equal(t, user, owner)
	assert.False(t, r.Online(user))
	assert.Zero(t, r.Len())
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}

	_, ok := r.Unregister(conn)
	assert.False(t, ok)

	r.Register(uuid.New(), conn)
	_, ok = r.Unregister(conn)
	assert.True(t, ok)
	_, ok = r.Unregister(conn)
	assert.False(t, ok)
}

func TestLastConnectionWins(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()
	first, second := &fakeConn{id: 1}, &fakeConn{id: 2}

	r.Register(user, first)
	r.Register(user, second)

	got, ok := r.Lookup(user)
	require.True(t, ok)
	assert.Same(t, second, got)

	// закрытие вытесненной вкладки не снимает новую регистрацию
	_, ok = r.Unregister(first)
	assert.False(t, ok)
	got, ok = r.Lookup(user)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len())
}

func TestReRegisterConnectionUnderAnotherUser(t *testing.T) {
	r := NewRegistry()
	a, b := uuid.New(), uuid.New()
	conn := &fakeConn{}

	r.Register(a, conn)
	r.Register(b, conn)

	assert.False(t, r.Online(a))
	assert.True(t, r.Online(b))
	userID, ok := r.UserOf(conn)
	require.True(t, ok)
	assert.Equal(t, b, userID)
}

func TestConcurrentRegistrationsDoNotLoseUpdates(t *testing.T) {
	r := NewRegistry()
	const n = 200
	users := make([]uuid.UUID, n)
	conns := make([]*fakeConn, n)
	for i := range users {
		users[i] = uuid.New()
		conns[i] = &fakeConn{id: i}
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register(users[i], conns[i])
			r.Lookup(users[(i+1)%n])
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, r.Len())

	for i := 0; i < n; i += 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Unregister(conns[i])
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n/2, r.Len())
	for i := 1; i < n; i += 2 {
		assert.True(t, r.Online(users[i]))
	}
}
