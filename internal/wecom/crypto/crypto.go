// Package crypto implements the WeCom callback signature scheme and the
// AES-256-CBC payload codec used on the encrypted callback channel.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidKey means the configured key material is malformed.
	ErrInvalidKey = errors.New("invalid encoding AES key")

	// ErrSignatureMismatch means the callback signature did not verify.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrInvalidPadding means decrypted padding failed strict validation.
	ErrInvalidPadding = errors.New("invalid padding")

	// ErrCorruptPayload means the decrypted plaintext structure is broken.
	ErrCorruptPayload = errors.New("corrupt payload")

	// ErrReceiverMismatch means the payload was encrypted for a different
	// receiver id than this gateway is configured for.
	ErrReceiverMismatch = errors.New("receiver id mismatch")
)

// padBlockSize is the PKCS#7 block size the platform pads plaintext to.
// Note this is larger than the AES cipher block size.
const padBlockSize = 32

// Codec verifies callback signatures and encrypts/decrypts callback payloads
// for one configured credential set. It is safe for concurrent use.
type Codec struct {
	token      string
	key        []byte // 32 bytes; key[:16] doubles as the CBC IV
	receiverID string
}

// NewCodec builds a codec from the callback token, the 43-character encoding
// AES key, and the expected receiver id (corp id). The key must base64-decode
// (with '=' completion) to exactly 32 bytes.
func NewCodec(token, encodingAESKey, receiverID string) (*Codec, error) {
	if len(encodingAESKey) != 43 {
		return nil, fmt.Errorf("%w: want 43 characters, got %d", ErrInvalidKey, len(encodingAESKey))
	}
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: decodes to %d bytes, want 32", ErrInvalidKey, len(key))
	}
	return &Codec{token: token, key: key, receiverID: receiverID}, nil
}

// Signature computes the callback signature: the four values are sorted
// lexicographically, concatenated, and hashed with SHA-1; the result is the
// lowercase hex digest.
func (c *Codec) Signature(timestamp, nonce, payload string) string {
	parts := []string{c.token, timestamp, nonce, payload}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a presented signature against the computed one in
// constant time. An empty presented signature never verifies.
func (c *Codec) VerifySignature(signature, timestamp, nonce, payload string) error {
	if signature == "" {
		return ErrSignatureMismatch
	}
	expected := c.Signature(timestamp, nonce, payload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// Encrypt wraps msg in the platform plaintext layout, pads it, encrypts with
// AES-256-CBC, and returns the base64 ciphertext.
//
// Plaintext layout: 16 random bytes | 4-byte big-endian length | msg | receiver id.
func (c *Codec) Encrypt(msg []byte) (string, error) {
	buf := make([]byte, 0, 16+4+len(msg)+len(c.receiverID)+padBlockSize)

	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate random prefix: %w", err)
	}
	buf = append(buf, random...)

	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(msg)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, msg...)
	buf = append(buf, c.receiverID...)

	buf = pkcs7Pad(buf)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	ciphertext := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, c.key[:aes.BlockSize]).CryptBlocks(ciphertext, buf)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt: base64 decode, AES-256-CBC decrypt, strict
// padding validation, structure validation, and receiver id check. It returns
// the inner message bytes.
func (c *Codec) Decrypt(encoded string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrCorruptPayload, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a block multiple", ErrCorruptPayload, len(ciphertext))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.key[:aes.BlockSize]).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext)
	if err != nil {
		return nil, err
	}

	// 16 random + 4 length + at least an empty msg
	if len(plaintext) < 20 {
		return nil, fmt.Errorf("%w: plaintext too short (%d bytes)", ErrCorruptPayload, len(plaintext))
	}

	msgLen := binary.BigEndian.Uint32(plaintext[16:20])
	if uint32(len(plaintext)-20) < msgLen {
		return nil, fmt.Errorf("%w: declared length %d exceeds payload", ErrCorruptPayload, msgLen)
	}

	msg := plaintext[20 : 20+msgLen]
	receiver := string(plaintext[20+msgLen:])
	if c.receiverID != "" && receiver != c.receiverID {
		return nil, fmt.Errorf("%w: got %q", ErrReceiverMismatch, receiver)
	}

	out := make([]byte, msgLen)
	copy(out, msg)
	return out, nil
}

// pkcs7Pad pads data to a multiple of padBlockSize. A full extra block is
// appended when the input is already aligned.
func pkcs7Pad(data []byte) []byte {
	n := padBlockSize - len(data)%padBlockSize
	pad := make([]byte, n)
	for i := range pad {
		pad[i] = byte(n)
	}
	return append(data, pad...)
}

// pkcs7Unpad validates and strips padding: the pad byte N must be in
// [1, padBlockSize] and all N trailing bytes must equal N.
func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrInvalidPadding)
	}
	n := int(data[len(data)-1])
	if n < 1 || n > padBlockSize || n > len(data) {
		return nil, fmt.Errorf("%w: pad byte %d", ErrInvalidPadding, n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: inconsistent pad bytes", ErrInvalidPadding)
		}
	}
	return data[:len(data)-n], nil
}
