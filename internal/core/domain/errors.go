package domain

import "errors"

var (
	ErrMalformedEnvelope     = errors.New("malformed envelope")
	ErrUnexpectedMessageKind = errors.New("unexpected message kind")
	ErrDuplicatePeer         = errors.New("duplicate peer")
	ErrPeerNotFound          = errors.New("peer not found")
	ErrPeerClosed            = errors.New("peer closed")
	ErrSendQueueFull         = errors.New("send queue full")
)
