package channel

import "context"

// Callbacks are invoked by a Transport from its own goroutines.
type Callbacks struct {
	// Receive gets every inbound frame in arrival order.
	Receive func(frame []byte)
	// Lost reports a dropped connection. err is nil for a clean close by the
	// remote side; retrying is true when the transport reconnects by itself.
	Lost func(err error, retrying bool)
	// Restored runs after an automatic reconnect.
	Restored func()
}

// Transport moves opaque frames to and from the tracking service.
type Transport interface {
	Connect(ctx context.Context, credential string, cb Callbacks) error
	Send(ctx context.Context, frame []byte) error
	Close() error
}
