// Package call holds the per-call state threaded through the inbound middleware chain.
package call

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/metadata"

	commonmeta "github.com/rainbow-me/service-runtime/common/metadata"
)

// ErrIdentityAlreadySet is returned when a second identity is written to the same call.
var ErrIdentityAlreadySet = errors.New("identity already set for this call")

// Identity is the authenticated caller resolved by the auth gate.
type Identity struct {
	UserID string
	Role   string
	Email  string
}

// Call is the state of one inbound call. It is created by the service registrar,
// owned by that call alone and never shared.
type Call struct {
	Method   string
	Metadata commonmeta.Metadata
	Request  any

	deadline    time.Time
	hasDeadline bool
	identity    *Identity
}

// New builds a Call from the incoming context: metadata is copied from the transport
// and the deadline, if any, is taken from ctx.
func New(ctx context.Context, method string, req any) *Call {
	c := &Call{
		Method:  method,
		Request: req,
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		c.Metadata = commonmeta.FromMultiMap(md)
	} else {
		c.Metadata = commonmeta.Metadata{}
	}
	c.deadline, c.hasDeadline = ctx.Deadline()
	return c
}

// Deadline reports the call deadline, if one was set.
func (c *Call) Deadline() (time.Time, bool) {
	return c.deadline, c.hasDeadline
}

// Identity returns the resolved caller, if the auth gate set one.
func (c *Call) Identity() (*Identity, bool) {
	return c.identity, c.identity != nil
}

// SetIdentity stores the resolved caller. The slot is write-once.
func (c *Call) SetIdentity(id *Identity) error {
	if id == nil {
		return errors.New("identity must not be nil")
	}
	if c.identity != nil {
		return ErrIdentityAlreadySet
	}
	c.identity = id
	return nil
}

type callKey struct{}

// NewContext returns a context carrying c.
func NewContext(ctx context.Context, c *Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// FromContext returns the Call stored by NewContext.
func FromContext(ctx context.Context) (*Call, bool) {
	c, ok := ctx.Value(callKey{}).(*Call)
	return c, ok && c != nil
}

// IdentityFromContext is a shortcut for handlers that only need the caller.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	c, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	return c.Identity()
}
