package domain

import "context"

// FrameKind distinguishes data frames from transport lifecycle sentinels.
type FrameKind int

const (
	// FrameData carries a raw venue payload for the parser.
	FrameData FrameKind = iota
	// FrameStreamReset is injected by the source after a reconnect; the book
	// engine must re-synchronize.
	FrameStreamReset
	// FrameEndOfStream signals that the source has terminated.
	FrameEndOfStream
)

// Frame is one unit of input from a FrameSource.
type Frame struct {
	Kind    FrameKind
	Symbol  string
	Payload []byte
}

// FrameSource yields raw venue frames for a set of subscribed symbols. It is
// responsible for connection management: reconnecting with exponential
// backoff and injecting a FrameStreamReset frame after every reconnect.
type FrameSource interface {
	// Connect establishes the stream for the given symbols.
	Connect(ctx context.Context, symbols []string) error
	// NextFrame blocks until a frame is available, the stream ends (a frame
	// with Kind FrameEndOfStream), or ctx is done.
	NextFrame(ctx context.Context) (Frame, error)
	// Close tears down the connection.
	Close() error
}

// SnapshotFetcher returns a full book snapshot tagged with a sequence cursor.
// Implementations must be safe to call concurrently with delta reception and
// must enforce at most one in-flight request per symbol.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, symbol string, depthLimit int) (Snapshot, error)
}
