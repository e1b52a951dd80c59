package identity

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/ontosys/omscore/pkg/metrics"
	"github.com/ontosys/omscore/pkg/omserr"
)

// FromContext returns the UserContext the interceptor attached to ctx,
// or nil if none is present (e.g. in a test calling a handler directly).
func FromContext(ctx context.Context) *UserContext {
	uc, _ := ctx.Value(userContextKey).(*UserContext)
	return uc
}

// UnaryServerInterceptor authenticates every request via bearer token
// and enforces routes's capability requirement, following the
// teacher's FullMethod-keyed admission check shape
// (pkg/api.ReadOnlyInterceptor / pkg/freezegate.Gate.UnaryServerInterceptor).
// A method absent from routes is rejected with FORBIDDEN by default.
func (v *Validator) UnaryServerInterceptor(routes RouteTable) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		cap, known := routes[info.FullMethod]
		if !known {
			metrics.AuthDeniedTotal.WithLabelValues("unknown_route").Inc()
			return nil, omserr.Newf(omserr.Forbidden, "no capability mapped for method %s", info.FullMethod)
		}

		token, err := bearerToken(ctx)
		if err != nil {
			metrics.AuthDeniedTotal.WithLabelValues("missing_token").Inc()
			return nil, err
		}

		uc, err := v.Validate(ctx, token)
		if err != nil {
			metrics.AuthDeniedTotal.WithLabelValues("invalid_token").Inc()
			return nil, err
		}

		if !uc.HasCapability(cap) {
			metrics.AuthDeniedTotal.WithLabelValues("missing_capability").Inc()
			return nil, omserr.Newf(omserr.Forbidden, "subject %s lacks capability %s", uc.Subject, cap)
		}

		return handler(context.WithValue(ctx, userContextKey, uc), req)
	}
}

func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", omserr.New(omserr.Unauthenticated, "no request metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", omserr.New(omserr.Unauthenticated, "missing authorization header")
	}
	const prefix = "Bearer "
	header := values[0]
	if !strings.HasPrefix(header, prefix) {
		return "", omserr.New(omserr.Unauthenticated, "authorization header is not a bearer token")
	}
	return strings.TrimPrefix(header, prefix), nil
}
