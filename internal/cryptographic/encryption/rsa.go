package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// RSAEncrypt wraps a small payload (an AES key bundle) under the
// recipient's public key with RSAES-PKCS1-v1_5, the scheme peer nodes
// expect for private delivery.
func RSAEncrypt(pubKey *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if pubKey == nil {
		return nil, fmt.Errorf("recipient public key missing")
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pubKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("rsa encrypt: %w", err)
	}
	return ct, nil
}

func RSADecrypt(privKey *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if privKey == nil {
		return nil, fmt.Errorf("private key missing")
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, privKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return plain, nil
}
