package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// nonceLen is the GCM nonce size; ciphertexts of nonceLen bytes or
// fewer are rejected before decryption, and anything too short to hold
// the GCM tag then fails in gcm.Open.
const nonceLen = 12

// DecryptControllerKey recovers the indexer's raw controller private
// key hex from a value encrypted with secretKey. The ciphertext is
// hex-encoded, optionally "0x"-prefixed, with its 12-byte GCM nonce
// appended as the last 12 bytes. The AES-256 key is the SHA-256 hash
// of secretKey, matching the scheme the controller key was encrypted
// with before being placed in configuration.
func DecryptControllerKey(secretKey, ciphertextHex string) (string, error) {
	ciphertextHex = strings.TrimPrefix(ciphertextHex, "0x")
	raw, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", err
	}
	if len(raw) < nonceLen+1 {
		return "", errors.New("ciphertext too short")
	}

	key := sha256.Sum256([]byte(secretKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := raw[len(raw)-nonceLen:]
	sealed := raw[:len(raw)-nonceLen]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
