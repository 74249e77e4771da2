package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middleware; the first one added sees the
// request first
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain of the given middleware
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Stack is the chain every usdbridge route runs behind: request ids,
// access logging (except for the quiet paths), panic recovery and CORS
func Stack(logger *zap.Logger, origins []string, quiet ...string) *Chain {
	return NewChain(
		RequestID(),
		Logging(logger, quiet...),
		Recovery(logger),
		CORS(DefaultCORSConfig(origins...)),
	)
}

// Use appends m
func (c *Chain) Use(m Middleware) *Chain {
	c.middlewares = append(c.middlewares, m)
	return c
}

// Then wraps handler in the whole chain
func (c *Chain) Then(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}
	return handler
}

// ThenFunc is Then for a handler function
func (c *Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	return c.Then(fn)
}

// Handlers converts the chain for chi's Router.Use
func (c *Chain) Handlers() []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(c.middlewares))
	for _, m := range c.middlewares {
		out = append(out, m)
	}
	return out
}
