package domain

import "errors"

var (
	// Registry
	ErrDuplicateIdentity = errors.New("client id already connected")
	ErrNotOnline         = errors.New("client is not online")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrRegistryClosed    = errors.New("registry closed")

	// Protocol
	ErrSelfTarget           = errors.New("cannot send a private message to yourself")
	ErrDecode               = errors.New("malformed frame")
	ErrUnsupportedFrameType = errors.New("unsupported frame type")

	// Queue
	ErrTransport        = errors.New("queue transport failure")
	ErrTransportTimeout = errors.New("queue transport timeout")
	ErrEnqueue          = errors.New("enqueue failed")
)
