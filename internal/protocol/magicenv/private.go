package magicenv

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"social_fed/internal/cryptographic/encryption"
	"social_fed/internal/protocol"
)

type (
	// keyBundle is the RSA-wrapped symmetric key material for one private
	// envelope, both members base64.
	keyBundle struct {
		Key string `json:"key"`
		IV  string `json:"iv"`
	}

	// privateEnvelope is the outer JSON of a modern private delivery.
	privateEnvelope struct {
		AESKey    string `json:"aes_key"`
		Encrypted string `json:"encrypted_magic_envelope"`
	}
)

// EncodePrivate encrypts an already-built envelope for one recipient:
// fresh 256-bit AES key and 128-bit IV for the envelope itself, the key
// bundle wrapped under the recipient's RSA key.
func EncodePrivate(envelopeXML []byte, recipientKey *rsa.PublicKey) ([]byte, error) {
	if recipientKey == nil {
		return nil, fmt.Errorf("%w: recipient public key absent", protocol.ErrCryptoFailure)
	}

	key := make([]byte, 32)
	iv := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
	}
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
	}

	ciphertext, err := encryption.AESEncrypt(key, iv, envelopeXML)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
	}

	bundle, err := json.Marshal(keyBundle{
		Key: base64.StdEncoding.EncodeToString(key),
		IV:  base64.StdEncoding.EncodeToString(iv),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
	}

	wrapped, err := encryption.RSAEncrypt(recipientKey, bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
	}

	return json.Marshal(privateEnvelope{
		AESKey:    base64.StdEncoding.EncodeToString(wrapped),
		Encrypted: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// decryptPrivate reverses EncodePrivate with the local private key,
// yielding the inner envelope XML.
func decryptPrivate(pe *privateEnvelope, privKey *rsa.PrivateKey) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(pe.AESKey)
	if err != nil {
		return nil, fmt.Errorf("%w: bad aes_key encoding", protocol.ErrMalformedEnvelope)
	}

	bundleJSON, err := encryption.RSADecrypt(privKey, wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: key unwrap: %v", protocol.ErrCryptoFailure, err)
	}

	var kb keyBundle
	if err := json.Unmarshal(bundleJSON, &kb); err != nil {
		return nil, fmt.Errorf("%w: bad key bundle", protocol.ErrCryptoFailure)
	}

	key, err := base64.StdEncoding.DecodeString(kb.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key encoding", protocol.ErrCryptoFailure)
	}
	iv, err := base64.StdEncoding.DecodeString(kb.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv encoding", protocol.ErrCryptoFailure)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(pe.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: bad envelope encoding", protocol.ErrMalformedEnvelope)
	}

	plain, err := encryption.AESDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
	}
	return plain, nil
}
