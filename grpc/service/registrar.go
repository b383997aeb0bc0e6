// Package service binds named handlers to a gRPC server behind the service pipeline.
package service

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rainbow-me/service-runtime/common/logger"
	"github.com/rainbow-me/service-runtime/grpc/call"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/grpc/interceptors"
)

// Registrar owns the handlers of one gRPC service. Every handler runs behind the
// committed middleware chain and every failure leaves as a translated status.
type Registrar struct {
	serviceName string
	chain       grpc.UnaryServerInterceptor
	metadata    string
	log         *logger.Logger

	mu      sync.RWMutex
	methods map[string]*method
}

type method struct {
	handler    grpc.UnaryHandler
	newRequest func() proto.Message
}

type Option func(*Registrar)

// WithLogger sets the logger used for unclassified failures. Defaults to the context logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Registrar) {
		r.log = log
	}
}

// WithServiceMetadata sets grpc.ServiceDesc.Metadata, conventionally the proto file name.
func WithServiceMetadata(file string) Option {
	return func(r *Registrar) {
		r.metadata = file
	}
}

type MethodOption func(*method)

// WithRequestType decodes the method's payload into the message returned by f instead
// of a google.protobuf.Struct.
func WithRequestType(f func() proto.Message) MethodOption {
	return func(m *method) {
		m.newRequest = f
	}
}

// NewRegistrar creates a registrar for serviceName (e.g. "catalog.v1.Catalog"). The chain
// is committed here; later changes to it are not seen. A nil chain runs handlers directly.
func NewRegistrar(serviceName string, chain *interceptors.UnaryServerInterceptorChain, opts ...Option) *Registrar {
	if chain == nil {
		chain = interceptors.NewUnaryServerInterceptorChain()
	}
	r := &Registrar{
		serviceName: serviceName,
		chain:       chain.Commit(),
		methods:     map[string]*method{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers handler under name. Registering the same name again replaces the
// previous handler, including on a server the registrar is already registered with.
func (r *Registrar) Handle(name string, handler grpc.UnaryHandler, opts ...MethodOption) {
	m := &method{
		handler:    handler,
		newRequest: func() proto.Message { return &structpb.Struct{} },
	}
	for _, opt := range opts {
		opt(m)
	}

	r.mu.Lock()
	r.methods[name] = m
	r.mu.Unlock()
}

// HandleAll registers every handler of the map with default options.
func (r *Registrar) HandleAll(handlers map[string]grpc.UnaryHandler) {
	for name, h := range handlers {
		r.Handle(name, h)
	}
}

// FullMethod returns "/<service>/<name>".
func (r *Registrar) FullMethod(name string) string {
	return "/" + r.serviceName + "/" + name
}

// ServiceDesc describes the methods registered so far.
func (r *Registrar) ServiceDesc() *grpc.ServiceDesc {
	r.mu.RLock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	desc := &grpc.ServiceDesc{
		ServiceName: r.serviceName,
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    r.metadata,
	}
	for _, name := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    r.methodHandler(name),
		})
	}
	return desc
}

// Register adds the service to s. Methods must be registered before this call.
func (r *Registrar) Register(s grpc.ServiceRegistrar) {
	// A nil implementation skips grpc's HandlerType check; handlers are closures.
	s.RegisterService(r.ServiceDesc(), nil)
}

func (r *Registrar) lookup(name string) (*method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

func (r *Registrar) methodHandler(name string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := r.FullMethod(name)

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		m, ok := r.lookup(name)
		if !ok {
			return nil, apperrors.New(apperrors.KindInternal, apperrors.InternalMessage)
		}

		in := m.newRequest()
		if err := dec(in); err != nil {
			return nil, apperrors.New(apperrors.KindInvalidRequest, "request payload could not be decoded",
				apperrors.WithCause(err))
		}

		handler := func(ctx context.Context, req any) (any, error) {
			return r.invoke(ctx, fullMethod, m, req)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
	}
}

// invoke runs one call through the chain and produces exactly one of response or
// translated error.
func (r *Registrar) invoke(ctx context.Context, fullMethod string, m *method, req any) (resp any, err error) {
	c := call.New(ctx, fullMethod, req)
	ctx = call.NewContext(ctx, c)

	defer func() {
		if p := recover(); p != nil {
			fields := append([]logger.Field{logger.String("full_method", fullMethod)}, logger.WithPanic(p)...)
			r.logger(ctx).Error("recovered from panic in call", fields...)
			resp, err = nil, apperrors.New(apperrors.KindInternal, apperrors.InternalMessage)
		}
	}()

	resp, err = r.chain(ctx, req, &grpc.UnaryServerInfo{FullMethod: fullMethod}, m.handler)
	if err != nil {
		translated := apperrors.Translate(err)
		if translated.Kind == apperrors.KindInternal {
			r.logger(ctx).Error("call failed with unclassified error",
				logger.String("full_method", fullMethod), logger.Error(err))
		}
		return nil, translated
	}

	if resp == nil {
		return nil, apperrors.New(apperrors.KindNoResult, "call completed without a result")
	}
	return resp, nil
}

func (r *Registrar) logger(ctx context.Context) *logger.Logger {
	if r.log != nil {
		return r.log
	}
	return logger.FromContext(ctx)
}

// Typed adapts a function taking and returning concrete types to a grpc.UnaryHandler.
// Req is whatever reaches the handler: the decoded message, or the normalized value a
// validation schema produced.
func Typed[Req any, Resp proto.Message](fn func(ctx context.Context, req Req) (Resp, error)) grpc.UnaryHandler {
	return func(ctx context.Context, req any) (any, error) {
		typed, ok := req.(Req)
		if !ok {
			var zero Req
			return nil, errors.Newf("handler expects %T, got %T", zero, req)
		}
		resp, err := fn(ctx, typed)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
}
