package auth

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"

	"github.com/rainbow-me/service-runtime/common/headers"
)

const (
	DefaultHeaderName = headers.HeaderAuthorization
	DefaultScheme     = "Bearer"
)

// ConfigOption is a functional option for configuring method policies
type ConfigOption func(*Config)

// WithAuthHeaderName sets the metadata key the credential is read from
func WithAuthHeaderName(name string) ConfigOption {
	return func(c *Config) {
		c.HeaderName = strings.ToLower(name)
	}
}

// WithPublicMethods marks methods that never require or inspect a credential
func WithPublicMethods(methods ...string) ConfigOption {
	return func(c *Config) {
		for _, method := range methods {
			c.PublicMethods[method] = true
		}
	}
}

// WithOptionalMethods marks methods that use a credential when present and run
// anonymously otherwise
func WithOptionalMethods(methods ...string) ConfigOption {
	return func(c *Config) {
		for _, method := range methods {
			c.OptionalMethods[method] = true
		}
	}
}

// WithMethodRoles restricts a method to the given roles
func WithMethodRoles(method string, roles ...string) ConfigOption {
	return func(c *Config) {
		c.Roles[method] = append(c.Roles[method], roles...)
	}
}

// WithLegacyRoleStatus makes role failures surface as Unauthenticated instead of
// PermissionDenied, for callers that depend on the older status.
func WithLegacyRoleStatus() ConfigOption {
	return func(c *Config) {
		c.RoleFailureCode = codes.Unauthenticated
	}
}

// Config holds the per-method auth policy. It is built once at wiring time and read-only afterwards.
type Config struct {
	HeaderName      string
	PublicMethods   map[string]bool
	OptionalMethods map[string]bool
	Roles           map[string][]string // full method -> allowed roles; absent means unrestricted
	RoleFailureCode codes.Code
}

// NewConfig builds a Config and validates it.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		HeaderName:      DefaultHeaderName,
		PublicMethods:   map[string]bool{},
		OptionalMethods: map[string]bool{},
		Roles:           map[string][]string{},
		RoleFailureCode: codes.PermissionDenied,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects a policy marking the same method both public and optional.
func (c *Config) Validate() error {
	var both []string
	for method := range c.PublicMethods {
		if c.OptionalMethods[method] {
			both = append(both, method)
		}
	}
	if len(both) > 0 {
		sort.Strings(both)
		return errors.Newf("methods marked both public and optional: %s", strings.Join(both, ", "))
	}
	return nil
}

// IsPublic reports whether method needs no credential.
func (c *Config) IsPublic(method string) bool {
	return c.PublicMethods[method]
}

// IsOptional reports whether method runs anonymously when no credential is sent.
func (c *Config) IsOptional(method string) bool {
	return c.OptionalMethods[method]
}

// AllowedRoles returns the roles allowed on method and whether a restriction exists.
func (c *Config) AllowedRoles(method string) ([]string, bool) {
	roles, ok := c.Roles[method]
	return roles, ok && len(roles) > 0
}

// TokenFromHeader returns the token part of a "<scheme> <token>" value.
func TokenFromHeader(value string) (string, bool) {
	parts := strings.Fields(value)
	if len(parts) < 2 {
		return "", false
	}
	return parts[1], true
}
