package magicenv

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	b64 "social_fed/internal/cryptographic/encoding"
	"social_fed/internal/cryptographic/encryption"
	"social_fed/internal/cryptographic/signature"
	"social_fed/internal/model"
	"social_fed/internal/protocol"
)

// legacyHeader is the outer JSON of a legacy private delivery's
// encrypted_header.
type legacyHeader struct {
	AESKey     string `json:"aes_key"`
	Ciphertext string `json:"ciphertext"`
}

// DecodeLegacy unwraps a first-generation delivery. Three sub-shapes:
// a plain header child (public), an encrypted_header (private, with a
// second inner AES layer around the payload), and a signed data block
// that may sit under provenance, env, or the bare root.
func DecodeLegacy(ctx context.Context, body []byte, privKey *rsa.PrivateKey, resolver KeyResolver) (*model.DecodedMessage, error) {
	root, err := protocol.ParseXML(body)
	if err != nil {
		return nil, err
	}

	var (
		author           string
		innerKey, innerIV []byte
		private          bool
	)

	switch {
	case root.Child("header") != nil:
		a := root.Child("header").Child("author_id")
		if a == nil || a.Value() == "" {
			return nil, fmt.Errorf("%w: header without author_id", protocol.ErrMalformedEnvelope)
		}
		author = a.Value()

	case root.Child("encrypted_header") != nil:
		if privKey == nil {
			return nil, fmt.Errorf("%w: private delivery without a local key", protocol.ErrCryptoFailure)
		}
		private = true
		author, innerKey, innerIV, err = decryptLegacyHeader(root.Child("encrypted_header").Value(), privKey)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: no header", protocol.ErrMalformedEnvelope)
	}

	base := root.Child("provenance")
	if base == nil {
		base = root.Child("env")
	}
	if base == nil && root.Child("data") != nil {
		base = root
	}
	if base == nil {
		return nil, fmt.Errorf("%w: no signed data block", protocol.ErrMalformedEnvelope)
	}

	env, err := parseEnvelopeNode(base)
	if err != nil {
		return nil, err
	}
	env.KeyID = author

	pubKey, err := resolver.ResolvePublicKey(ctx, author)
	if err != nil || pubKey == nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrKeyResolutionFailure, author)
	}
	if !signature.RSAVerify(pubKey, signableText(env), env.Sig) {
		return nil, fmt.Errorf("%w: envelope signature of %s", protocol.ErrSignatureVerificationFailed, author)
	}

	payload, err := b64.Decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: bad data encoding", protocol.ErrMalformedEnvelope)
	}

	if private {
		// the decoded data is itself base64 of the AES ciphertext
		raw, err := base64.StdEncoding.DecodeString(string(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: bad payload encoding", protocol.ErrMalformedEnvelope)
		}
		payload, err = encryption.AESDecrypt(innerKey, innerIV, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
		}
	}

	return &model.DecodedMessage{
		XML:       payload,
		Author:    author,
		AuthorKey: pubKey,
	}, nil
}

// decryptLegacyHeader unwraps the outer AES key bundle with the local
// private key and decrypts the header to recover the author handle plus
// the inner key and IV used for the payload.
func decryptLegacyHeader(encoded string, privKey *rsa.PrivateKey) (author string, key, iv []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(b64.StripWhitespace(encoded))
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad encrypted_header encoding", protocol.ErrMalformedEnvelope)
	}

	var lh legacyHeader
	if err := json.Unmarshal(raw, &lh); err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad encrypted_header", protocol.ErrMalformedEnvelope)
	}

	wrapped, err := base64.StdEncoding.DecodeString(lh.AESKey)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad aes_key encoding", protocol.ErrMalformedEnvelope)
	}
	bundleJSON, err := encryption.RSADecrypt(privKey, wrapped)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: key unwrap: %v", protocol.ErrCryptoFailure, err)
	}

	var kb keyBundle
	if err := json.Unmarshal(bundleJSON, &kb); err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad key bundle", protocol.ErrCryptoFailure)
	}
	outerKey, err := base64.StdEncoding.DecodeString(kb.Key)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad key encoding", protocol.ErrCryptoFailure)
	}
	outerIV, err := base64.StdEncoding.DecodeString(kb.IV)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad iv encoding", protocol.ErrCryptoFailure)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(lh.Ciphertext)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad ciphertext encoding", protocol.ErrMalformedEnvelope)
	}
	headerXML, err := encryption.AESDecrypt(outerKey, outerIV, ciphertext)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
	}

	hdr, err := protocol.ParseXML(headerXML)
	if err != nil {
		return "", nil, nil, err
	}
	ivNode := hdr.Child("iv")
	keyNode := hdr.Child("aes_key")
	authorNode := hdr.Child("author_id")
	if ivNode == nil || keyNode == nil || authorNode == nil || authorNode.Value() == "" {
		return "", nil, nil, fmt.Errorf("%w: incomplete decrypted_header", protocol.ErrMalformedEnvelope)
	}

	iv, err = base64.StdEncoding.DecodeString(ivNode.Value())
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad inner iv", protocol.ErrCryptoFailure)
	}
	key, err = base64.StdEncoding.DecodeString(keyNode.Value())
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad inner key", protocol.ErrCryptoFailure)
	}
	return authorNode.Value(), key, iv, nil
}
