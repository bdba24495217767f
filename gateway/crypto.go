package gateway

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// EncryptionError reports a malformed key or unusable plaintext. The payment
// service surfaces it as an internal failure; it is never provider-facing.
type EncryptionError struct {
	Reason string
}

func (e *EncryptionError) Error() string {
	return "gateway encryption: " + e.Reason
}

// Encrypt encrypts plaintext with AES-128-CBC under the pre-shared 128-bit
// hex key and returns base64(iv || ciphertext). The gateway holds the same
// key and decrypts on its side; this system never needs the reverse path.
func Encrypt(plaintext, hexKey string) (string, error) {
	if plaintext == "" {
		return "", &EncryptionError{Reason: "empty plaintext"}
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", &EncryptionError{Reason: "key is not valid hex"}
	}
	if len(key) != 16 {
		return "", &EncryptionError{Reason: fmt.Sprintf("key must be 16 bytes, got %d", len(key))}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", &EncryptionError{Reason: err.Error()}
	}

	padded := padPKCS7([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", &EncryptionError{Reason: "iv generation failed: " + err.Error()}
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// decrypt exists to verify the round-trip law in tests; the production flow
// is one-way.
func decrypt(cipherB64, hexKey string) (string, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 16 {
		return "", &EncryptionError{Reason: "malformed key"}
	}
	raw, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", &EncryptionError{Reason: "ciphertext is not valid base64"}
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", &EncryptionError{Reason: "ciphertext length invalid"}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", &EncryptionError{Reason: err.Error()}
	}
	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, err := unpadPKCS7(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func padPKCS7(b []byte, blockSize int) []byte {
	padLen := blockSize - (len(b) % blockSize)
	return append(b, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func unpadPKCS7(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, &EncryptionError{Reason: "invalid padded length"}
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, &EncryptionError{Reason: "invalid padding"}
	}
	for _, p := range b[len(b)-padLen:] {
		if int(p) != padLen {
			return nil, &EncryptionError{Reason: "invalid padding"}
		}
	}
	return b[:len(b)-padLen], nil
}
