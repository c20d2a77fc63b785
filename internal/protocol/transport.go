package protocol

import "context"

// Transport carries one JSON object per line. ReadLine blocks until the next
// line arrives or the connection fails.
type Transport interface {
	SendLine(line string) error
	ReadLine() (string, error)
	Close() error
}

// Dialer opens a new Transport to the stream endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}
