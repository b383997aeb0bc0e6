package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

func TestNewCopiesIncomingMetadata(t *testing.T) {
	md := metadata.Pairs("Authorization", "Bearer abc", "x-request-id", "r-1")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	c := New(ctx, "/catalog.Catalog/Get", "req")

	assert.Equal(t, "/catalog.Catalog/Get", c.Method)
	assert.Equal(t, "req", c.Request)
	assert.Equal(t, "Bearer abc", c.Metadata.First("AUTHORIZATION"))

	c.Metadata.Set("x-request-id", "changed")
	assert.Equal(t, []string{"r-1"}, md.Get("x-request-id"))

	_, ok := c.Deadline()
	assert.True(t, ok)
}

func TestNewWithoutMetadata(t *testing.T) {
	c := New(context.Background(), "/a.B/C", nil)
	require.NotNil(t, c.Metadata)
	_, ok := c.Deadline()
	assert.False(t, ok)
}

func TestIdentityIsWriteOnce(t *testing.T) {
	c := New(context.Background(), "/a.B/C", nil)

	_, ok := c.Identity()
	assert.False(t, ok)

	require.NoError(t, c.SetIdentity(&Identity{UserID: "1", Role: "admin"}))
	require.ErrorIs(t, c.SetIdentity(&Identity{UserID: "2"}), ErrIdentityAlreadySet)

	id, ok := c.Identity()
	require.True(t, ok)
	assert.Equal(t, "1", id.UserID)

	assert.Error(t, New(context.Background(), "/a.B/C", nil).SetIdentity(nil))
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	c := New(context.Background(), "/a.B/C", nil)
	require.NoError(t, c.SetIdentity(&Identity{UserID: "7"}))
	ctx := NewContext(context.Background(), c)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, c, got)

	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "7", id.UserID)
}
