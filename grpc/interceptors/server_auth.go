package interceptors

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"

	"github.com/rainbow-me/service-runtime/common/logger"
	"github.com/rainbow-me/service-runtime/grpc/auth"
	"github.com/rainbow-me/service-runtime/grpc/call"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/observability"
)

// callFromContext returns the Call the registrar attached to ctx, creating and attaching
// one when the interceptor runs outside a registrar (e.g. on a plain grpc.Server chain).
func callFromContext(ctx context.Context, req any, info *grpc.UnaryServerInfo) (context.Context, *call.Call) {
	if c, ok := call.FromContext(ctx); ok {
		return ctx, c
	}
	c := call.New(ctx, info.FullMethod, req)
	return call.NewContext(ctx, c), c
}

// UnaryAuthServerInterceptor resolves the caller identity from the bearer credential.
//
// Public methods skip credential extraction entirely. Optional methods run anonymously
// when no credential is sent, but a credential that is sent must be valid. Everything
// else requires a valid credential whose subject exists in store.
func UnaryAuthServerInterceptor(
	cfg *auth.Config,
	verifier auth.Verifier,
	store auth.IdentityStore,
) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if cfg.IsPublic(info.FullMethod) {
			return handler(ctx, req)
		}

		ctx, c := callFromContext(ctx, req, info)

		token, ok := auth.TokenFromHeader(c.Metadata.First(cfg.HeaderName))
		if !ok {
			if cfg.IsOptional(info.FullMethod) {
				return handler(ctx, req)
			}
			return nil, apperrors.New(apperrors.KindCredentialMissing, "authorization credential is missing")
		}

		claims, err := verifier.Verify(ctx, token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				return nil, apperrors.New(apperrors.KindCredentialExpired, "authorization credential has expired",
					apperrors.WithCause(err))
			}
			return nil, apperrors.New(apperrors.KindCredentialInvalid, "authorization credential is invalid",
				apperrors.WithCause(err))
		}

		found, err := store.FindUser(ctx, claims.UserID)
		if err != nil {
			return nil, errors.Wrapf(err, "look up user %s", claims.UserID)
		}
		if !found {
			return nil, apperrors.New(apperrors.KindSubjectNotFound, "user not found")
		}

		if err := c.SetIdentity(&call.Identity{
			UserID: claims.UserID,
			Role:   claims.Role,
			Email:  claims.Email,
		}); err != nil {
			return nil, err
		}

		observability.SetTag(ctx, "usr.id", claims.UserID)
		ctx = logger.ContextWithFields(ctx, logger.String("user_id", claims.UserID))

		return handler(ctx, req)
	}
}

// UnaryRoleServerInterceptor enforces the per-method allowed roles against the identity
// set by UnaryAuthServerInterceptor, which must run earlier in the chain. Anonymous
// calls pass through untouched.
func UnaryRoleServerInterceptor(cfg *auth.Config) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		c, ok := call.FromContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		identity, ok := c.Identity()
		if !ok {
			return handler(ctx, req)
		}

		if identity.Role == "" {
			return nil, apperrors.New(apperrors.KindRoleMissing, "caller has no role",
				apperrors.WithCode(cfg.RoleFailureCode))
		}

		allowed, restricted := cfg.AllowedRoles(info.FullMethod)
		if !restricted || slices.Contains(allowed, identity.Role) {
			return handler(ctx, req)
		}

		return nil, apperrors.New(apperrors.KindRoleForbidden, "caller role is not allowed to call this method",
			apperrors.WithCode(cfg.RoleFailureCode),
			apperrors.WithMetadataValue("role", identity.Role))
	}
}
