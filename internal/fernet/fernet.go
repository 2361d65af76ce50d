// Package fernet implements the Fernet authenticated-encryption token format:
// AES-128-CBC with PKCS7 padding, authenticated by HMAC-SHA256, transported
// as base64url without padding. Tokens round-trip with the reference
// implementation used by the rest of the platform, so the byte layout is a
// hard contract.
package fernet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the fixed first byte of every token.
const Version byte = 0x80

// Layout: version (1) | timestamp (8, big-endian) | iv (16) | ciphertext | hmac (32).
const (
	headerLen   = 1 + 8 + aes.BlockSize
	macLen      = sha256.Size
	minTokenLen = headerLen + macLen
)

var (
	// ErrInvalidToken covers malformed, truncated, or tampered tokens.
	ErrInvalidToken = errors.New("fernet: invalid token")
	// ErrInvalidKey indicates unusable key material.
	ErrInvalidKey = errors.New("fernet: invalid key")
)

// Cipher encrypts and decrypts opaque byte payloads. The 32-byte secret is
// split into a 16-byte signing key and a 16-byte encryption key.
type Cipher struct {
	signingKey    [16]byte
	encryptionKey [16]byte

	now func() time.Time
}

// New derives a Cipher from the configured key string. A key that decodes as
// base64url (no padding) to exactly 32 bytes is used directly; anything else
// is hashed with SHA-256 so human-chosen secrets still work.
func New(key string) (*Cipher, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	var material []byte
	if decoded, err := base64.RawURLEncoding.DecodeString(key); err == nil && len(decoded) == 32 {
		material = decoded
	} else {
		sum := sha256.Sum256([]byte(key))
		material = sum[:]
	}

	c := &Cipher{now: time.Now}
	copy(c.signingKey[:], material[:16])
	copy(c.encryptionKey[:], material[16:32])
	return c, nil
}

// Encrypt seals plaintext into a base64url-encoded token.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("fernet: generate iv: %w", err)
	}
	return c.encryptWithIV(plaintext, iv, uint64(c.now().Unix()))
}

func (c *Cipher) encryptWithIV(plaintext, iv []byte, timestamp uint64) (string, error) {
	block, err := aes.NewCipher(c.encryptionKey[:])
	if err != nil {
		return "", fmt.Errorf("fernet: init cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext)
	token := make([]byte, 0, headerLen+len(padded)+macLen)
	token = append(token, Version)
	token = binary.BigEndian.AppendUint64(token, timestamp)
	token = append(token, iv...)

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	token = append(token, ciphertext...)

	mac := hmac.New(sha256.New, c.signingKey[:])
	mac.Write(token)
	token = mac.Sum(token)

	return base64.RawURLEncoding.EncodeToString(token), nil
}

// Decrypt opens a token produced by Encrypt (or the reference
// implementation). The HMAC is verified in constant time before any
// decryption is attempted; a forged or truncated token never reaches the
// block cipher.
func (c *Cipher) Decrypt(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", ErrInvalidToken)
	}
	if len(raw) < minTokenLen {
		return nil, fmt.Errorf("%w: too short", ErrInvalidToken)
	}
	if raw[0] != Version {
		return nil, fmt.Errorf("%w: unknown version", ErrInvalidToken)
	}

	signed := raw[:len(raw)-macLen]
	mac := hmac.New(sha256.New, c.signingKey[:])
	mac.Write(signed)
	if !hmac.Equal(mac.Sum(nil), raw[len(raw)-macLen:]) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	iv := raw[9:headerLen]
	ciphertext := signed[headerLen:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad ciphertext length", ErrInvalidToken)
	}

	block, err := aes.NewCipher(c.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("fernet: init cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

// Timestamp reports the creation time carried in a token without decrypting
// it. TTL enforcement is left to the caller.
func (c *Cipher) Timestamp(token string) (time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < minTokenLen || raw[0] != Version {
		return time.Time{}, ErrInvalidToken
	}
	return time.Unix(int64(binary.BigEndian.Uint64(raw[1:9])), 0), nil
}

// EncryptJSON serializes v and encrypts the result.
func (c *Cipher) EncryptJSON(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fernet: marshal payload: %w", err)
	}
	return c.Encrypt(payload)
}

// DecryptJSON decrypts a token and unmarshals the plaintext into v.
func (c *Cipher) DecryptJSON(token string, v any) error {
	plaintext, err := c.Decrypt(token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("fernet: unmarshal payload: %w", err)
	}
	return nil
}

func pkcs7Pad(data []byte) []byte {
	padding := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrInvalidToken)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidToken)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidToken)
		}
	}
	return data[:len(data)-padding], nil
}
