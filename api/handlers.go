package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"trelow-offline/cachesync"
	"trelow-offline/intercept"
)

const (
	postMessageMaxSize = 1 << 20
	messagesRoute      = "/_sw/messages"
	internalPrefix     = "/_sw/"
)

// Poster accepts messages for the cache-owning context.
type Poster interface {
	Post(msg cachesync.Message) bool
}

// HealthFunc reports whether the proxy's dependencies are reachable.
type HealthFunc func(ctx context.Context) error

// Register wires the message endpoint, the health check and the intercepting
// proxy on the provided Echo instance. Every path that is not an internal
// route is proxied through in.
func Register(e *echo.Echo, in *intercept.Interceptor, mailbox Poster, health HealthFunc, logger *log.Logger) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	e.GET("/healthz", healthz(health, logger))
	e.POST(messagesRoute, postMessage(mailbox, logger), GzipRequestMiddleware())

	skip := func(c echo.Context) bool {
		p := c.Request().URL.Path
		return p == "/healthz" || strings.HasPrefix(p, internalPrefix)
	}
	e.Use(requestMetrics(skip, logger))
	e.Use(middleware.ProxyWithConfig(middleware.ProxyConfig{
		Skipper: skip,
		Balancer: middleware.NewRoundRobinBalancer([]*middleware.ProxyTarget{
			{Name: "upstream", URL: in.Origin()},
		}),
		Transport: interceptTransport{in: in},
	}))
}

func healthz(check HealthFunc, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if check == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			logger.WithError(err).Warn("health check failed")
			return c.String(http.StatusServiceUnavailable, "unhealthy")
		}
		return c.NoContent(http.StatusOK)
	}
}

func postMessage(mailbox Poster, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		lr := io.LimitReader(c.Request().Body, postMessageMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var msg cachesync.Message
		if err := dec.Decode(&msg); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := msg.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if !mailbox.Post(msg) {
			logger.WithField("type", msg.Type).Warn("mailbox full, message dropped")
			return c.String(http.StatusServiceUnavailable, "busy")
		}
		return c.NoContent(http.StatusAccepted)
	}
}

// requestMetrics emits proxy.request.metrics for every proxied request.
func requestMetrics(skip middleware.Skipper, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			if skip(c) {
				return next(c)
			}
			req := c.Request()
			metrics, ctx := newProxyRequestMetrics(req.Context(), logger, req.Method, req.URL.Path)
			c.SetRequest(req.WithContext(ctx))
			defer func() {
				status := c.Response().Status
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
				metrics.Log(status, err)
			}()
			return next(c)
		}
	}
}

// interceptTransport hands proxied requests to the interceptor and records
// how each one was served.
type interceptTransport struct {
	in *intercept.Interceptor
}

func (t interceptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Host = ""
	start := time.Now()
	resp, outcome, err := t.in.Serve(out)
	metricsFrom(req.Context()).Observe(outcome, time.Since(start))
	return resp, err
}
