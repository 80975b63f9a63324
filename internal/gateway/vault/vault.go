// Package vault decrypts API keys stored encrypted at rest.
//
// Stored values have the form "ivBase64:cipherBase64" and are produced with
// AES-256-CBC and PKCS#7 padding. The shared secret is normalized to exactly
// 32 bytes: longer secrets are truncated, shorter ones are right-padded with
// zero bytes.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const keyLen = 32

var (
	ErrMalformed = errors.New("encrypted value is not in iv:ciphertext form")
	ErrPadding   = errors.New("invalid padding")
)

// Result is the outcome of opening an encrypted value. A zero Plaintext with
// a non-nil Err means no usable credential.
type Result struct {
	Plaintext string
	Err       error
}

// OK reports whether a non-empty credential was recovered
func (r Result) OK() bool {
	return r.Err == nil && r.Plaintext != ""
}

// Decrypt returns the plaintext, or "" when the value cannot be decrypted.
func Decrypt(encrypted, secret string) string {
	return Open(encrypted, secret).Plaintext
}

// Open decrypts an "iv:ciphertext" value and reports why it failed, if it did.
func Open(encrypted, secret string) Result {
	ivPart, cipherPart, ok := strings.Cut(strings.TrimSpace(encrypted), ":")
	if !ok || ivPart == "" || cipherPart == "" {
		return Result{Err: ErrMalformed}
	}

	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil {
		return Result{Err: fmt.Errorf("decoding iv: %w", err)}
	}
	if len(iv) != aes.BlockSize {
		return Result{Err: fmt.Errorf("iv must be %d bytes, got %d", aes.BlockSize, len(iv))}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(cipherPart)
	if err != nil {
		return Result{Err: fmt.Errorf("decoding ciphertext: %w", err)}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return Result{Err: fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))}
	}

	block, err := aes.NewCipher(NormalizeKey(secret))
	if err != nil {
		return Result{Err: err}
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	plain, err = unpad(plain)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Plaintext: string(plain)}
}

// Encrypt seals plaintext into the "iv:ciphertext" storage form.
func Encrypt(plaintext, secret string) (string, error) {
	block, err := aes.NewCipher(NormalizeKey(secret))
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	padded := pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(out), nil
}

// NormalizeKey truncates or zero-pads secret to the AES-256 key length.
func NormalizeKey(secret string) []byte {
	key := make([]byte, keyLen)
	copy(key, secret)
	return key
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrPadding
		}
	}
	return data[:len(data)-n], nil
}
