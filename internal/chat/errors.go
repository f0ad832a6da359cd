package chat

import "errors"

// ErrPublishDropped reports a publish attempted while the transport was not
// connected. The payload is dropped, never queued: callers surface the error
// to the user instead of buffering without bound.
var ErrPublishDropped = errors.New("publish dropped: transport not connected")

// ErrNoActiveRecipient reports a send or typing call before any conversation
// was selected.
var ErrNoActiveRecipient = errors.New("no active recipient selected")
