package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ontosys/omscore/pkg/freezegate"
	"github.com/ontosys/omscore/pkg/identity"
	"github.com/ontosys/omscore/pkg/metrics"
	"github.com/ontosys/omscore/pkg/omserr"
)

// userContextKey stores the *identity.UserContext Echo attached to the
// request, mirroring identity.FromContext's grpc-context counterpart.
const userContextKey = "oms_user"

// authMiddleware authenticates the bearer token on every request under
// the group it is mounted on and requires the capability routes names
// for it, the HTTP counterpart of identity.Validator.UnaryServerInterceptor.
// By default-deny, a route absent from routes is rejected with FORBIDDEN
// rather than let through; callers keep
// unauthenticated endpoints (health, metrics) out of this middleware's
// group entirely instead of special-casing them here.
func authMiddleware(v *identity.Validator, routes identity.RouteTable) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Request().Method + " " + c.Path()
			cap, known := routes[route]
			if !known {
				metrics.AuthDeniedTotal.WithLabelValues("unknown_route").Inc()
				return omserr.Newf(omserr.Forbidden, "no capability mapped for route %s", route)
			}

			header := c.Request().Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				metrics.AuthDeniedTotal.WithLabelValues("missing_token").Inc()
				return omserr.New(omserr.Unauthenticated, "missing bearer token")
			}

			uc, err := v.Validate(c.Request().Context(), strings.TrimPrefix(header, prefix))
			if err != nil {
				metrics.AuthDeniedTotal.WithLabelValues("invalid_token").Inc()
				return err
			}
			if !uc.HasCapability(cap) {
				metrics.AuthDeniedTotal.WithLabelValues("missing_capability").Inc()
				return omserr.Newf(omserr.Forbidden, "subject %s lacks capability %s", uc.Subject, cap)
			}

			c.Set(userContextKey, uc)
			return next(c)
		}
	}
}

// userFromContext retrieves the UserContext authMiddleware attached, or
// nil on a route authMiddleware does not guard.
func userFromContext(c echo.Context) *identity.UserContext {
	uc, _ := c.Get(userContextKey).(*identity.UserContext)
	return uc
}

// admissionMiddleware runs freezegate.Gate.Check against the write
// coordinate extract derives from the request, the HTTP counterpart of
// Gate.UnaryServerInterceptor. extract returning ok=false skips the
// check (GET routes, health, events).
func admissionMiddleware(gate *freezegate.Gate, extract func(echo.Context) (freezegate.Request, bool)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			coord, ok := extract(c)
			if !ok {
				return next(c)
			}
			if err := gate.Check(coord); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// requestMetricsMiddleware records oms_http_requests_total and
// oms_http_request_duration_seconds per route, the HTTP analogue of the
// per-RPC instrumentation the teacher's doc.go described for its gRPC
// methods.
func requestMetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			status := c.Response().Status
			if err != nil {
				if httpErr, ok := err.(*echo.HTTPError); ok {
					status = httpErr.Code
				} else {
					status = toOMSError(err).HTTPStatus()
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
