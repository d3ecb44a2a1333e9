// Package middleware provides HTTP middleware for the management API.
//
// The server chains them, innermost first:
//
//	handler = Recovery(RequestID(Logging(Tracing(CORS(Timeout(mux))))))
//
// RequestID propagates X-Request-ID into the request context, where the
// logging package picks it up for every log line written with that
// context. Logging records one line per request and, when given an
// observer, request metrics labeled by route pattern. Tracing extracts W3C
// trace context and starts a server span. Recovery turns panics into a
// 500 response with the standard JSON error body.
package middleware
