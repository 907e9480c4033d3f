package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterResolveBijection(t *testing.T) {
	r := NewRegistry(NewHashStrategy(6))

	pairs := [][2]string{
		{"UserService", "getUserById"},
		{"UserService", "createUser"},
		{"FeedService", "subscribe"},
	}
	for _, p := range pairs {
		_, err := r.Register(p[0], p[1])
		require.NoError(t, err)
	}

	for _, p := range pairs {
		id, ok := r.ResolveID(p[0], p[1])
		require.True(t, ok)
		service, method, ok := r.ResolveName(id)
		require.True(t, ok)
		assert.Equal(t, p[0], service)
		assert.Equal(t, p[1], method)

		// And the other direction closes the loop.
		back, ok := r.ResolveID(service, method)
		require.True(t, ok)
		assert.Equal(t, id, back)
	}
}

func TestHashStrategyDeterministicExportReload(t *testing.T) {
	r := NewRegistry(NewHashStrategy(6))
	id, err := r.Register("UserService", "getUserById")
	require.NoError(t, err)
	assert.Len(t, id, 6)

	// Export, reload into a fresh registry: same id.
	fresh := NewRegistry(nil)
	require.NoError(t, fresh.Load(r.Export()))
	got, ok := fresh.ResolveID("UserService", "getUserById")
	require.True(t, ok)
	assert.Equal(t, id, got)

	// An independently built registry running the same generation pass also
	// agrees.
	peer := NewRegistry(NewHashStrategy(6))
	peerID, err := peer.Register("UserService", "getUserById")
	require.NoError(t, err)
	assert.Equal(t, id, peerID)
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(NewRandomStrategy(8))
	first, err := r.Register("S", "m")
	require.NoError(t, err)
	second, err := r.Register("S", "m")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, r.Len())
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterWithID("Old", "method", "keepme"))

	doc := Document{
		"UserService": {"getUserById": "abc123", "createUser": "def456"},
		"FeedService": {"subscribe": "abc123"}, // duplicate id across services
	}
	err := r.Load(doc)
	require.Error(t, err)

	// All-or-nothing: the failed load must not have touched the registry.
	id, ok := r.ResolveID("Old", "method")
	require.True(t, ok)
	assert.Equal(t, "keepme", id)
	_, ok = r.ResolveID("UserService", "createUser")
	assert.False(t, ok)
}

func TestRegisterWithIDRejectsCollision(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterWithID("A", "x", "id1"))
	require.Error(t, r.RegisterWithID("B", "y", "id1"))
	require.NoError(t, r.RegisterWithID("A", "x", "id1")) // same pair, fine
}

func TestRandomStrategyShape(t *testing.T) {
	s := NewRandomStrategy(10)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := s.Generate("S", "m")
		assert.Len(t, id, 10)
		seen[id] = true
	}
	// Uniform alphanumeric draws of length 10 should not collide in 50 tries.
	assert.Greater(t, len(seen), 45)
}

func TestSequentialStrategy(t *testing.T) {
	s := NewSequentialStrategy("m")
	assert.Equal(t, "m1", s.Generate("A", "x"))
	assert.Equal(t, "m2", s.Generate("A", "y"))
	assert.Equal(t, "m3", s.Generate("B", "z"))
}

func TestFallbackID(t *testing.T) {
	assert.Equal(t, "UserService.getUserById", FallbackID("UserService", "getUserById"))
}

func TestExportShape(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterWithID("UserService", "getUserById", "abc123"))
	require.NoError(t, r.RegisterWithID("UserService", "createUser", "def456"))

	doc := r.Export()
	assert.Equal(t, Document{
		"UserService": {"getUserById": "abc123", "createUser": "def456"},
	}, doc)
}
