package progress

import "context"

// Sink receives the batches the Hub cuts. Consume must honor ctx and may be
// called again while a slow earlier batch is still being processed; Close is
// called once during hub shutdown and should flush anything the sink
// buffers.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the write side handed to harvest workers. Emit must never block
// the harvest loop, whatever the sinks are doing; the Hub satisfies this.
type Emitter interface {
	Emit(evt Event)
}
