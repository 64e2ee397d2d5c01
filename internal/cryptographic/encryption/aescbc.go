package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AES-256-CBC helpers. Key and IV are zero-padded/truncated to 32 and 16
// bytes before use, matching peer implementations; the only padding applied
// to the plaintext is the cipher's own PKCS7 block padding.

func normalize(b []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, b)
	return out
}

func AESEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(normalize(key, 32))
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, normalize(iv, 16)).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func AESDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(normalize(key, 32))
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext is not a whole number of blocks")
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, normalize(iv, 16)).CryptBlocks(plain, ciphertext)
	return pkcs7Unpad(plain, block.BlockSize())
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
