// Package tracer is a small tracing facade over OpenTelemetry.
//
// Pipeline code depends on the Tracer interface only; main wires the OTel
// adapter and tests use NoopTracer. Attributes must never carry codes,
// certificate material or attribute values.
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks it failed.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int creates an integer attribute.
func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: int64(value)}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanAuthorizePrepare = "once.authorize.prepare"
	SpanAuthorizeDecide  = "once.authorize.decide"
	SpanExchange         = "once.token.exchange"
	SpanCRLRefresh       = "once.crl.refresh"
)

// Attribute keys.
const (
	AttrClientID      = "client.id"
	AttrScopeCount    = "scope.count"
	AttrSubjectPolicy = "subject.policy"
	AttrFailureKind   = "failure.kind"
	AttrApproved      = "consent.approved"
	AttrStoreBackend  = "store.backend"
	AttrCRLSources    = "crl.sources"
)
