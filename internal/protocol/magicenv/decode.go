package magicenv

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"social_fed/internal/model"
	"social_fed/internal/protocol"
)

// DecodeRaw unwraps a modern delivery. JSON input is a private envelope
// and needs the local private key for the outer unwrap; anything else is
// treated as an already-public envelope XML.
func DecodeRaw(ctx context.Context, body []byte, privKey *rsa.PrivateKey, resolver KeyResolver) (*model.DecodedMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", protocol.ErrMalformedEnvelope)
	}

	if trimmed[0] == '{' {
		var pe privateEnvelope
		if err := json.Unmarshal(trimmed, &pe); err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrMalformedEnvelope, err)
		}
		if privKey == nil {
			return nil, fmt.Errorf("%w: private delivery without a local key", protocol.ErrCryptoFailure)
		}
		inner, err := decryptPrivate(&pe, privKey)
		if err != nil {
			return nil, err
		}
		trimmed = inner
	}

	return Verify(ctx, trimmed, resolver)
}

// Verify parses and verifies a public envelope XML without any decryption
// step. It is also the whole decode path for unauthenticated single-post
// fetches, which share the same signable-string contract.
func Verify(ctx context.Context, envelopeXML []byte, resolver KeyResolver) (*model.DecodedMessage, error) {
	root, err := protocol.ParseXML(envelopeXML)
	if err != nil {
		return nil, err
	}

	envNode := root
	if root.Name() != "env" {
		if c := root.Child("env"); c != nil {
			envNode = c
		} else {
			return nil, fmt.Errorf("%w: no env element", protocol.ErrMalformedEnvelope)
		}
	}

	env, err := parseEnvelopeNode(envNode)
	if err != nil {
		return nil, err
	}
	return verifyEnvelope(ctx, env, resolver)
}
