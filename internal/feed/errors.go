package feed

import "errors"

// Domain errors for the feed package.
var (
	// ErrNoSubscriber is returned when a Listener is created without an MQTT client.
	ErrNoSubscriber = errors.New("feed: subscriber is required")

	// ErrNoCache is returned when a Listener is created without a reading cache.
	ErrNoCache = errors.New("feed: reading cache is required")

	// ErrWildcardTopic is returned for feed topics containing + or #.
	ErrWildcardTopic = errors.New("feed: wildcard topics are not supported")

	// ErrUnexpectedTopic is returned when a message arrives on a topic the
	// listener did not subscribe to.
	ErrUnexpectedTopic = errors.New("feed: unexpected topic")
)
