// Package crypto implements the credential codec: authenticated symmetric
// encryption for target credentials plus display-safe masking helpers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	nonceLength = 12 // standard GCM nonce
	tagLength   = 16 // GCM auth tag

	// MinSecretLength is the minimum accepted encryption secret length.
	// Startup fails fast when the configured secret is shorter.
	MinSecretLength = 32
)

var (
	// ErrFormat is returned when a blob is not a well-formed ciphertext.
	ErrFormat = errors.New("credential blob is malformed")

	// ErrIntegrity is returned when the authentication tag does not verify,
	// i.e. the blob was tampered with or encrypted under a different key.
	ErrIntegrity = errors.New("credential blob failed integrity check")
)

// Codec encrypts and decrypts credential blobs with AES-256-GCM. The key is
// derived from the configured secret with SHA-256, so any secret of adequate
// length yields a full-size key.
type Codec struct {
	key []byte
}

// NewCodec derives a codec from the configured secret.
func NewCodec(secret string) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters", MinSecretLength)
	}
	key := sha256.Sum256([]byte(secret))
	return &Codec{key: key[:]}, nil
}

// Encrypt seals plaintext and packs nonce + auth tag + ciphertext into one
// base64 blob. The nonce is freshly random on every call, so encrypting the
// same plaintext twice yields different blobs.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	aead, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal returns ciphertext||tag; repack as nonce||tag||ciphertext to keep
	// the blob layout stable for consumers.
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	blob := make([]byte, 0, nonceLength+tagLength+len(ct))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt unpacks a blob produced by Encrypt and verifies the auth tag before
// releasing plaintext. Returns ErrFormat for malformed blobs and ErrIntegrity
// when the tag does not verify.
func (c *Codec) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(raw) < nonceLength+tagLength {
		return "", fmt.Errorf("%w: blob too short", ErrFormat)
	}

	aead, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := raw[:nonceLength]
	tag := raw[nonceLength : nonceLength+tagLength]
	ct := raw[nonceLength+tagLength:]

	sealed := make([]byte, 0, len(ct)+tagLength)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

func (c *Codec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return aead, nil
}

// CredentialKind selects the masking style for a credential preview.
type CredentialKind string

const (
	KindPassword CredentialKind = "password"
	KindKey      CredentialKind = "key"
)

// MaskCredential produces a display-safe partial reveal of a credential.
// Used only for UI previews, never for security decisions.
func MaskCredential(value string, kind CredentialKind) string {
	if kind == KindPassword {
		if len(value) <= 4 {
			return "****"
		}
		return value[:2] + "****" + value[len(value)-2:]
	}

	// For SSH keys, keep the type prefix and the last 8 characters.
	parts := strings.SplitN(value, " ", 3)
	if len(parts) >= 2 && len(parts[1]) > 0 {
		body := parts[1]
		if len(body) > 8 {
			body = body[len(body)-8:]
		}
		return parts[0] + " ****" + body
	}
	if len(value) > 8 {
		return "****" + value[len(value)-8:]
	}
	return "****" + value
}

// GenerateAccessKeyCode returns a random access key code of four hex segments,
// e.g. "3F1A-09BC-77D2-E4A0".
func GenerateAccessKeyCode() string {
	segments := make([]string, 4)
	for i := range segments {
		b := make([]byte, 2)
		rand.Read(b)
		segments[i] = strings.ToUpper(hex.EncodeToString(b))
	}
	return strings.Join(segments, "-")
}

// GenerateToken returns a secure random token of length*2 hex characters.
func GenerateToken(length int) string {
	if length <= 0 {
		length = 32
	}
	b := make([]byte, length)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Checksum returns the SHA-256 hex digest of content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
