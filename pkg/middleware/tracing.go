package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// RouteResolver reports the pattern a request will be routed to.
// *http.ServeMux satisfies it.
type RouteResolver interface {
	Handler(r *http.Request) (h http.Handler, pattern string)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the websocket upgrader. A successful
// hijack is recorded as 101, since the upgrader answers on the raw conn.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacker not supported")
	}
	conn, buf, err := h.Hijack()
	if err == nil {
		rw.statusCode = http.StatusSwitchingProtocols
	}
	return conn, buf, err
}

// TracerMiddleware opens a server span per request, continuing any trace
// carried in the headers. With routes set, spans are named after the
// matched pattern so every /ws?key=... lands under one name.
func TracerMiddleware(app string, routes RouteResolver) func(http.Handler) http.Handler {
	tracer := otel.Tracer(app)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			name := r.Method + " " + r.URL.Path
			attrs := []attribute.KeyValue{
				semconv.ServiceName(app),
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			}
			if routes != nil {
				if _, pattern := routes.Handler(r); pattern != "" {
					name = pattern
					attrs = append(attrs, attribute.String("http.route", pattern))
				}
			}
			if websocket.IsWebSocketUpgrade(r) {
				attrs = append(attrs, attribute.Bool("http.upgrade.websocket", true))
			}

			ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", wrapped.statusCode))
			if wrapped.statusCode >= 400 {
				span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
			}
		})
	}
}
