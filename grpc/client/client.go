package client

import (
	"context"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
)

// Client is a cached connection to one destination plus the Invoker that guards calls on it.
type Client struct {
	destination Destination
	conn        *grpc.ClientConn
	invoker     *Invoker
}

func (c *Client) Destination() Destination {
	return c.destination
}

// Conn exposes the connection for generated stubs. Calls made through it bypass the Invoker.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

func (c *Client) Invoker() *Invoker {
	return c.invoker
}

// Invoke performs a unary call with timeout and retry. Each attempt decodes into its own
// copy of resp so a late reply from an abandoned attempt cannot race the caller.
func (c *Client) Invoke(ctx context.Context, method string, req, resp proto.Message, opts ...grpc.CallOption) error {
	result, err := c.invoker.invoke(ctx, func(ctx context.Context) (any, error) {
		out := proto.Clone(resp)
		proto.Reset(out)
		if err := c.conn.Invoke(ctx, method, req, out, opts...); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	proto.Reset(resp)
	if out, ok := result.(proto.Message); ok && out != nil {
		proto.Merge(resp, out)
	}
	return nil
}

// Health runs the standard gRPC health check for service ("" for the whole server).
func (c *Client) Health(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	result, err := c.invoker.invoke(ctx, func(ctx context.Context) (any, error) {
		return healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	resp, _ := result.(*healthpb.HealthCheckResponse)
	return resp.GetStatus(), nil
}
