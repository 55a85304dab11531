package chat

import "errors"

var (
	ErrInvalidProvider = errors.New("invalid chat provider")
	ErrInvalidRoom     = errors.New("invalid chat room")
	ErrInvalidHub      = errors.New("invalid chat hub config")
	ErrHubClosed       = errors.New("chat hub closed")
	ErrRelayExhausted  = errors.New("chat relay reconnect attempts exhausted")
)
