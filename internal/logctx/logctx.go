// Package logctx carries request and validation identifiers in a context and
// adds them to every slog record logged with that context.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if vd, ok := ctx.Value(validationDataKey{}).(*ValidationData); ok {
		attrs := []any{
			slog.String("id", vd.ValidationID),
			slog.String("checks", vd.Checks),
		}
		if vd.Issuer != "" {
			attrs = append(attrs, slog.String("issuer", vd.Issuer))
		}
		r.AddAttrs(slog.Group("validation", attrs...))
	}

	if md, ok := ctx.Value(methodDataKey{}).(*MethodData); ok {
		r.AddAttrs(slog.Group("method",
			slog.String("name", md.Name),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

// RequestDataFrom returns the request data stored in ctx, if any.
func RequestDataFrom(ctx context.Context) (*RequestData, bool) {
	rd, ok := ctx.Value(requestDataKey{}).(*RequestData)
	return rd, ok
}

type validationDataKey struct{}

// ValidationData identifies one token validation. Issuer is filled in once
// the token has been decoded, so the pointer is shared and mutated.
type ValidationData struct {
	ValidationID string
	Checks       string
	Issuer       string
}

func WithValidationData(ctx context.Context, data *ValidationData) context.Context {
	return context.WithValue(ctx, validationDataKey{}, data)
}

type methodDataKey struct{}

type MethodData struct {
	Name string
}

func WithMethodData(ctx context.Context, data *MethodData) context.Context {
	return context.WithValue(ctx, methodDataKey{}, data)
}
