// Package magicenv builds and parses the signed, optionally encrypted
// magic envelope in both the legacy and the modern wire shape. Only the
// modern shape is ever produced on output.
package magicenv

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"

	b64 "social_fed/internal/cryptographic/encoding"
	"social_fed/internal/cryptographic/signature"
	"social_fed/internal/model"
	"social_fed/internal/protocol"
)

const (
	NamespaceMagicEnv = "http://salmon-protocol.org/ns/magic-env"
	NamespaceLegacy   = "https://joindiaspora.com/protocol"

	AlgRSASHA256      = "RSA-SHA256"
	EncodingBase64URL = "base64url"
	DataTypeXML       = "application/xml"
)

// KeyResolver resolves a handle to its current public key. Verification
// cannot proceed without it.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, handle string) (*rsa.PublicKey, error)
}

// signableText is the exact byte string envelope signatures cover:
// base64url(data).base64url(type).base64url(encoding).base64url(alg),
// with the data component already whitespace-stripped.
func signableText(env *model.Envelope) []byte {
	return []byte(strings.Join([]string{
		env.Data,
		b64.Encode([]byte(env.DataType)),
		b64.Encode([]byte(env.Encoding)),
		b64.Encode([]byte(env.Alg)),
	}, "."))
}

// Build wraps plaintext in a signed modern envelope for the given handle.
func Build(plaintext []byte, handle string, privKey *rsa.PrivateKey) (*model.Envelope, error) {
	env := &model.Envelope{
		Data:     b64.StripWhitespace(b64.Encode(plaintext)),
		DataType: DataTypeXML,
		Encoding: EncodingBase64URL,
		Alg:      AlgRSASHA256,
		KeyID:    handle,
	}

	sig, err := signature.RSASign(privKey, signableText(env))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
	}
	env.Sig = sig
	return env, nil
}

// RenderXML serializes an envelope in the modern shape, key_id carrying
// the base64url-encoded handle.
func RenderXML(env *model.Envelope) []byte {
	return []byte(fmt.Sprintf(
		`<me:env xmlns:me="%s">`+
			`<me:data type="%s">%s</me:data>`+
			`<me:encoding>%s</me:encoding>`+
			`<me:alg>%s</me:alg>`+
			`<me:sig key_id="%s">%s</me:sig>`+
			`</me:env>`,
		NamespaceMagicEnv,
		env.DataType, env.Data,
		env.Encoding,
		env.Alg,
		b64.Encode([]byte(env.KeyID)), b64.Encode(env.Sig),
	))
}

// parseEnvelopeNode reads data/encoding/alg/sig out of an env (or
// provenance) element. KeyID is left empty when the sig carries no key_id;
// the legacy decoder fills it from the header instead.
func parseEnvelopeNode(n *protocol.Node) (*model.Envelope, error) {
	data := n.Child("data")
	enc := n.Child("encoding")
	alg := n.Child("alg")
	sig := n.Child("sig")
	if data == nil || enc == nil || alg == nil || sig == nil {
		return nil, fmt.Errorf("%w: envelope is missing required children", protocol.ErrMalformedEnvelope)
	}

	sigBytes, err := b64.Decode(sig.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature encoding", protocol.ErrMalformedEnvelope)
	}

	env := &model.Envelope{
		Data:     b64.StripWhitespace(data.Text),
		DataType: data.Attr("type"),
		Encoding: enc.Value(),
		Alg:      alg.Value(),
		Sig:      sigBytes,
	}

	if keyID := sig.Attr("key_id"); keyID != "" {
		handle, err := b64.Decode(keyID)
		if err == nil && strings.Contains(string(handle), "@") {
			env.KeyID = string(handle)
		} else if strings.Contains(keyID, "@") {
			// some peers send the handle unencoded
			env.KeyID = keyID
		}
	}
	return env, nil
}

// verifyEnvelope resolves the signer's key, checks the signature and
// returns the decoded payload. Any structural failure aborts; no partial
// processing.
func verifyEnvelope(ctx context.Context, env *model.Envelope, resolver KeyResolver) (*model.DecodedMessage, error) {
	if env.Encoding != EncodingBase64URL {
		return nil, fmt.Errorf("%w: unsupported encoding %q", protocol.ErrMalformedEnvelope, env.Encoding)
	}
	if env.Alg != AlgRSASHA256 {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", protocol.ErrMalformedEnvelope, env.Alg)
	}
	if env.KeyID == "" {
		return nil, fmt.Errorf("%w: empty key_id", protocol.ErrMalformedEnvelope)
	}

	pubKey, err := resolver.ResolvePublicKey(ctx, env.KeyID)
	if err != nil || pubKey == nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrKeyResolutionFailure, env.KeyID)
	}

	if !signature.RSAVerify(pubKey, signableText(env), env.Sig) {
		return nil, fmt.Errorf("%w: envelope signature of %s", protocol.ErrSignatureVerificationFailed, env.KeyID)
	}

	plaintext, err := b64.Decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: bad data encoding", protocol.ErrMalformedEnvelope)
	}

	return &model.DecodedMessage{
		XML:       plaintext,
		Author:    env.KeyID,
		AuthorKey: pubKey,
	}, nil
}
