package interceptors

import (
	"context"
	"slices"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
)

// Chain is an ordered, id-keyed list of interceptors that supports a variety of
// interactions to modify its order before it is committed.
// None of the operations are concurrency-safe; build the chain at wiring time.
type Chain[T any] struct {
	itemOrder []string
	items     map[string]T
}

func newChain[T any]() Chain[T] {
	return Chain[T]{items: make(map[string]T)}
}

// UnaryServerInterceptorChain builds and requires grpc.UnaryServerInterceptor's
type UnaryServerInterceptorChain struct {
	Chain[grpc.UnaryServerInterceptor]
}

// UnaryClientInterceptorChain builds and requires grpc.UnaryClientInterceptor's
type UnaryClientInterceptorChain struct {
	Chain[grpc.UnaryClientInterceptor]
}

func NewUnaryServerInterceptorChain() *UnaryServerInterceptorChain {
	return &UnaryServerInterceptorChain{Chain: newChain[grpc.UnaryServerInterceptor]()}
}

func NewUnaryClientInterceptorChain() *UnaryClientInterceptorChain {
	return &UnaryClientInterceptorChain{Chain: newChain[grpc.UnaryClientInterceptor]()}
}

func (c *Chain[T]) Exists(id string) bool {
	_, ok := c.items[id]
	return ok
}

// IDs returns the ids in chain order.
func (c *Chain[T]) IDs() []string {
	return slices.Clone(c.itemOrder)
}

// Items returns the interceptors in chain order.
func (c *Chain[T]) Items() []T {
	out := make([]T, 0, len(c.itemOrder))
	for _, id := range c.itemOrder {
		out = append(out, c.items[id])
	}
	return out
}

// Len is the number of interceptors in the chain.
func (c *Chain[T]) Len() int {
	return len(c.itemOrder)
}

// Push adds a new interceptor onto the end of the chain.
// Returns false if an item with the specified ID already exists.
// Push("b", <inter>)
//
//	Before: a
//	After: a -> b
func (c *Chain[T]) Push(id string, inter T) bool {
	if _, ok := c.items[id]; ok {
		return false
	}

	c.items[id] = inter
	c.itemOrder = append(c.itemOrder, id)

	return true
}

// InsertAfter adds an interceptor right after afterID.
// Returns false if id already exists or afterID does not.
// InsertAfter("a", "c", <inter>)
//
//	Before: a -> b
//	After: a -> c -> b
func (c *Chain[T]) InsertAfter(afterID, id string, inter T) bool {
	return c.insertAt(afterID, id, inter, 1)
}

// InsertBefore adds an interceptor right before beforeID.
// Returns false if id already exists or beforeID does not.
// InsertBefore("b", "c", <inter>)
//
//	Before: a -> b
//	After: a -> c -> b
func (c *Chain[T]) InsertBefore(beforeID, id string, inter T) bool {
	return c.insertAt(beforeID, id, inter, 0)
}

func (c *Chain[T]) insertAt(anchorID, id string, inter T, offset int) bool {
	if _, ok := c.items[id]; ok {
		return false
	}

	index := slices.Index(c.itemOrder, anchorID)
	if index < 0 {
		return false
	}

	c.itemOrder = slices.Insert(c.itemOrder, index+offset, id)
	c.items[id] = inter

	return true
}

// Delete removes an interceptor from the chain.
// Returns false if the id does not exist.
func (c *Chain[T]) Delete(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}

	delete(c.items, id)
	c.itemOrder = slices.DeleteFunc(c.itemOrder, func(s string) bool { return s == id })

	return true
}

// Replace swaps the interceptor stored under id, keeping its position.
// Returns false if the id does not exist.
func (c *Chain[T]) Replace(id string, inter T) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}

	c.items[id] = inter

	return true
}

// Commit composes the chain into a single interceptor. The first interceptor pushed is
// the outermost: it runs first on the way in and last on the way out. An interceptor that
// returns without calling its handler short-circuits every later stage.
func (c *UnaryServerInterceptorChain) Commit() grpc.UnaryServerInterceptor {
	interceptors := c.Items()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		cur := &unaryServerCursor{interceptors: interceptors, info: info, handler: handler}
		return cur.at(0)(ctx, req)
	}
}

// unaryServerCursor walks a committed chain by index. Each position gets its own
// handler, so an interceptor may call next more than once.
type unaryServerCursor struct {
	interceptors []grpc.UnaryServerInterceptor
	info         *grpc.UnaryServerInfo
	handler      grpc.UnaryHandler
}

func (c *unaryServerCursor) at(i int) grpc.UnaryHandler {
	if i == len(c.interceptors) {
		return c.handler
	}
	return func(ctx context.Context, req any) (any, error) {
		return c.interceptors[i](ctx, req, c.info, c.at(i+1))
	}
}

// Commit builds one grpc.UnaryClientInterceptor out of the chain, first pushed outermost.
func (c *UnaryClientInterceptorChain) Commit() grpc.UnaryClientInterceptor {
	return grpcmiddleware.ChainUnaryClient(c.Items()...)
}
