package domain

import "errors"

// Sentinel errors for the notification domain. Use errors.Is() to check these.
var (
	// ErrMissingRecipient indicates an envelope or stream request without a recipient.
	ErrMissingRecipient = errors.New("recipient is required")

	// ErrMissingID indicates an envelope without an id.
	ErrMissingID = errors.New("envelope id is required")

	// ErrMissingType indicates an envelope without a type tag.
	ErrMissingType = errors.New("envelope type is required")

	// ErrMalformedEnvelope indicates a payload that could not be decoded into an envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrConnectionClosed indicates a send to a connection that already reached a terminal state.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSlowConsumer indicates a connection whose outbound buffer is full.
	ErrSlowConsumer = errors.New("connection outbound buffer full")

	// ErrBrokerUnavailable indicates the cross-instance bridge could not publish.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrStreamingUnsupported indicates the response writer cannot flush partial output.
	ErrStreamingUnsupported = errors.New("streaming unsupported")
)
