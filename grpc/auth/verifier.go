package auth

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the verified payload of a credential.
type Claims struct {
	UserID string
	Role   string
	Email  string
}

// Verifier checks a credential and returns its claims.
// Implementations return an error matching ErrTokenExpired for expired credentials and
// ErrTokenInvalid for any other verification failure.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// IdentityStore looks up the user record behind verified claims. It is shared by all
// calls and must be safe for concurrent use.
type IdentityStore interface {
	// FindUser returns found=false when no user has the given id.
	FindUser(ctx context.Context, userID string) (found bool, err error)
}

// IdentityStoreFunc adapts a function to IdentityStore.
type IdentityStoreFunc func(ctx context.Context, userID string) (bool, error)

func (f IdentityStoreFunc) FindUser(ctx context.Context, userID string) (bool, error) {
	return f(ctx, userID)
}

type tokenClaims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HMAC-signed JWTs.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

type JWTOption func(*jwtOptions)

type jwtOptions struct {
	issuer string
	leeway time.Duration
}

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) JWTOption {
	return func(o *jwtOptions) {
		o.issuer = issuer
	}
}

// WithLeeway tolerates clock skew when checking exp/nbf.
func WithLeeway(d time.Duration) JWTOption {
	return func(o *jwtOptions) {
		o.leeway = d
	}
}

func NewJWTVerifier(secret string, opts ...JWTOption) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	o := &jwtOptions{}
	for _, opt := range opts {
		opt(o)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
		jwt.WithLeeway(o.leeway),
	}
	if o.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(o.issuer))
	}

	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	var tc tokenClaims
	_, err := v.parser.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	// jwt joins its validation errors with multiple %w verbs
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return nil, errors.Mark(errors.Wrap(err, "verify token"), ErrTokenExpired)
	case err != nil:
		return nil, errors.Mark(errors.Wrap(err, "verify token"), ErrTokenInvalid)
	}

	userID := tc.UserID
	if userID == "" {
		userID = tc.Subject
	}
	if userID == "" {
		return nil, errors.Mark(errors.New("token carries no subject"), ErrTokenInvalid)
	}

	return &Claims{UserID: userID, Role: tc.Role, Email: tc.Email}, nil
}
