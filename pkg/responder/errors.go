package responder

import "errors"

var (
	// ErrMalformedMention means the notification lacks the fields needed to reply.
	ErrMalformedMention = errors.New("malformed mention")
	// ErrThreadUnavailable means the post being answered could not be loaded.
	ErrThreadUnavailable = errors.New("thread unavailable")
	// ErrGenerationExhausted means no acceptable completion was produced.
	ErrGenerationExhausted = errors.New("completion attempts exhausted")
	// ErrAlreadyClaimed means another handler is answering or has answered the mention.
	ErrAlreadyClaimed = errors.New("mention already claimed")
)
