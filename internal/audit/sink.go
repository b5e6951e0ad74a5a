package audit

import "context"

// Sink receives audit records. Implementations must treat Append as
// write-once: a record handed to a sink is never modified afterwards.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rec Record) error

// Append implements Sink.
func (f SinkFunc) Append(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}
