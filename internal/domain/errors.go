package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrContextDone         = errors.New("context cancelled")
	ErrBookStale           = errors.New("order book stale")
	ErrBookNotLive         = errors.New("order book not live")
	ErrNoBridge            = errors.New("no bridging delta for snapshot")
	ErrSequenceGap         = errors.New("sequence gap in delta stream")
	ErrSnapshotUnreachable = errors.New("snapshot endpoint unreachable")
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrEmptyBook           = errors.New("book side empty")
	ErrQueueClosed         = errors.New("queue closed")
	ErrQueueFull           = errors.New("queue full")
)
