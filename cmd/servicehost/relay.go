package main

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rainbow-me/service-runtime/grpc/call"
	"github.com/rainbow-me/service-runtime/grpc/client"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/grpc/service"
	"github.com/rainbow-me/service-runtime/grpc/validation"
)

const (
	relayServiceName = "servicehost.v1.Relay"

	kindDestinationNotFound apperrors.Kind = "destination-not-found"
)

type checkDestinationRequest struct {
	Destination string `json:"destination" validate:"required"`
	Service     string `json:"service"`
}

// relay is the built-in service of the host: a liveness ping, an identity echo and a
// health check of the configured downstream destinations.
type relay struct {
	name         string
	registry     *client.Registry
	destinations map[string]client.Destination
	now          func() time.Time
}

func newRelay(name string, registry *client.Registry, destinations []client.Destination) *relay {
	byName := make(map[string]client.Destination, len(destinations))
	for _, d := range destinations {
		byName[d.Name] = d
	}
	return &relay{name: name, registry: registry, destinations: byName, now: time.Now}
}

func (r *relay) register(reg *service.Registrar) {
	reg.HandleAll(map[string]grpc.UnaryHandler{
		"Ping":             service.Typed(r.ping),
		"Whoami":           service.Typed(r.whoami),
		"CheckDestination": service.Typed(r.checkDestination),
	})
}

func (r *relay) schemas() validation.Schemas {
	return validation.Schemas{
		fullMethod("CheckDestination"): validation.Struct[checkDestinationRequest](),
	}
}

func fullMethod(name string) string {
	return "/" + relayServiceName + "/" + name
}

func (r *relay) ping(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"service": r.name,
		"time":    r.now().UTC().Format(time.RFC3339),
	})
}

func (r *relay) whoami(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	id, ok := call.IdentityFromContext(ctx)
	if !ok {
		return structpb.NewStruct(map[string]any{"authenticated": false})
	}
	return structpb.NewStruct(map[string]any{
		"authenticated": true,
		"user_id":       id.UserID,
		"role":          id.Role,
		"email":         id.Email,
	})
}

func (r *relay) checkDestination(ctx context.Context, req *checkDestinationRequest) (*structpb.Struct, error) {
	d, ok := r.destinations[req.Destination]
	if !ok {
		return nil, apperrors.NewWithCode(codes.NotFound, kindDestinationNotFound,
			"unknown destination "+req.Destination,
			apperrors.WithMetadataValue("destination", req.Destination),
		)
	}

	c, err := r.registry.Get(d)
	if err != nil {
		return nil, err
	}

	st, err := c.Health(ctx, req.Service)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"destination": d.Name,
		"target":      d.Target(),
		"status":      st.String(),
	})
}
