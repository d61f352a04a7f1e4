package progress

import "context"

// Sink consumes progress events. Implementations must be safe for repeated
// calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// dispatcher can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}
