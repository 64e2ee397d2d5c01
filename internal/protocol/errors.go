// Package protocol holds what the codec, normalizer and dispatcher share:
// the failure taxonomy and the ordered XML node walker.
package protocol

import "errors"

// Every failure the engine can classify. Call sites wrap these with
// context; the transport boundary maps them to wire-level responses with
// errors.Is. Nothing in the engine panics past a package boundary.
var (
	ErrMalformedEnvelope           = errors.New("malformed envelope")
	ErrCryptoFailure               = errors.New("crypto failure")
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
	ErrKeyResolutionFailure        = errors.New("key resolution failure")
	ErrSpoofedAuthor               = errors.New("spoofed author")
	ErrUnsupportedMessageType      = errors.New("unsupported message type")
	ErrPrivacyViolation            = errors.New("privacy violation")
	ErrTransportFailure            = errors.New("transport failure")
	ErrNoDestination               = errors.New("no destination")
)
