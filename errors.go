package raknet

import "github.com/pkg/errors"

var (
	ErrClosed          = errors.New("raknet: closed")
	ErrSessionNotFound = errors.New("raknet: session not found")
	ErrSplitLimit      = errors.New("raknet: split message limit exceeded")
	ErrHandshake       = errors.New("raknet: handshake failed")
	ErrTimeout         = errors.New("raknet: session timed out")
	ErrRemoteClosed    = errors.New("raknet: closed by remote")
)
