package model

import "crypto/rsa"

type (
	// Envelope is the parsed magic envelope: a signed container around an
	// opaque payload. The signable string is always
	// base64url(data) "." base64url(type) "." base64url(encoding) "."
	// base64url(alg), computed after stripping whitespace from the data.
	Envelope struct {
		Data     string // base64url payload, whitespace already stripped
		DataType string // MIME-like tag, normally application/xml
		Encoding string // base64url
		Alg      string // RSA-SHA256
		Sig      []byte
		KeyID    string // signer handle, decoded from the base64url key_id
	}

	// DecodedMessage is the result of unwrapping one inbound envelope.
	// Produced once per delivery and never mutated afterward.
	DecodedMessage struct {
		XML       []byte
		Author    string
		AuthorKey *rsa.PublicKey
	}
)
