package client

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rainbow-me/service-runtime/common/logger"
	"github.com/rainbow-me/service-runtime/grpc/interceptors"
)

var ErrRegistryClosed = errors.New("client registry is closed")

// Registry caches one Client per destination for the lifetime of the process.
// Entries are never evicted; Close releases every connection on shutdown.
type Registry struct {
	mu          sync.Mutex
	clients     map[string]*Client
	closed      bool
	log         *logger.Logger
	dialOptions []grpc.DialOption
	chain       *interceptors.UnaryClientInterceptorChain
	invokerOpts []InvokerOption
}

type RegistryOption func(*Registry)

// WithDialOptions appends dial options to every connection. The default transport is
// plaintext; pass grpc.WithTransportCredentials to override.
func WithDialOptions(opts ...grpc.DialOption) RegistryOption {
	return func(r *Registry) {
		r.dialOptions = append(r.dialOptions, opts...)
	}
}

// WithClientChain installs a client interceptor chain on every connection.
func WithClientChain(chain *interceptors.UnaryClientInterceptorChain) RegistryOption {
	return func(r *Registry) {
		r.chain = chain
	}
}

// WithInvokerOptions is applied to the Invoker of every client.
func WithInvokerOptions(opts ...InvokerOption) RegistryOption {
	return func(r *Registry) {
		r.invokerOpts = append(r.invokerOpts, opts...)
	}
}

func NewRegistry(log *logger.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logger.NoOp()
	}
	r := &Registry{
		clients: make(map[string]*Client),
		log:     log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the cached client for d, creating it on first use.
// Concurrent callers for the same destination always receive the same client.
func (r *Registry) Get(d Destination) (*Client, error) {
	d = d.withDefaults()
	key := d.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if c, ok := r.clients[key]; ok {
		return c, nil
	}

	conn, err := grpc.NewClient(d.Target(), r.dialOpts()...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create client for %s", d.Target())
	}

	c := &Client{
		destination: d,
		conn:        conn,
		invoker:     NewInvoker(d.Retries, d.Timeout, r.invokerOpts...),
	}
	r.clients[key] = c

	r.log.Info("registered downstream client",
		logger.String("destination", d.Name),
		logger.String("target", d.Target()),
		logger.Duration("timeout", d.Timeout),
		logger.Int("max_attempts", d.Retries),
	)

	return c, nil
}

// Len returns the number of cached clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close closes every cached connection. Later calls to Get fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for key, c := range r.clients {
		err = multierr.Append(err, c.conn.Close())
		delete(r.clients, key)
	}
	r.closed = true
	return err
}

func (r *Registry) dialOpts() []grpc.DialOption {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if r.chain != nil && r.chain.Len() > 0 {
		opts = append(opts, grpc.WithUnaryInterceptor(r.chain.Commit()))
	}
	return append(opts, r.dialOptions...)
}
