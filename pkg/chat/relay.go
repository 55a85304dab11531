package chat

import "context"

// Sink receives normalized messages from a relay.
type Sink interface {
	Push(messages ...Message)
	Replace(messages []Message)
}

// Relay connects to one chat source and feeds a Sink until ctx is done
// or the source gives up.
type Relay interface {
	Run(ctx context.Context, sink Sink) error
	Connected() bool
}
