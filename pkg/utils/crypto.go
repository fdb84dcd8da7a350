package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	encryptionSalt  = "nysc-totp-encryption"
	versionedPrefix = "v1:"
	legacyKeyLength = 32
	legacyIVLength  = aes.BlockSize
)

var (
	ErrEncryptionNotConfigured = errors.New("encryption not configured")
	ErrDecryption              = errors.New("unable to decrypt secret")
)

// Vault encrypts TOTP seeds at rest. Current output is
// "v1:" + base64(nonce || AES-256-GCM ciphertext) under an HKDF-derived key.
// Seeds written before versioning are hex AES-256-CBC with key and IV derived
// from the same secret the way OpenSSL's EVP_BytesToKey does; Decrypt still
// reads them.
type Vault struct {
	key       []byte
	legacyKey []byte
	legacyIV  []byte
}

func NewVault(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrEncryptionNotConfigured
	}

	hkdfReader := hkdf.New(
		sha256.New,
		[]byte(secret),
		[]byte(encryptionSalt),
		[]byte("encryption-key"),
	)
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	legacyKey, legacyIV := bytesToKey([]byte(secret), legacyKeyLength, legacyIVLength)

	return &Vault{key: key, legacyKey: legacyKey, legacyIV: legacyIV}, nil
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return versionedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (v *Vault) Decrypt(encoded string) (string, error) {
	plaintext, _, err := v.DecryptWithFormat(encoded)
	return plaintext, err
}

// DecryptWithFormat also reports whether the value was in the legacy
// encoding so callers can re-encrypt it.
func (v *Vault) DecryptWithFormat(encoded string) (string, bool, error) {
	if strings.HasPrefix(encoded, versionedPrefix) {
		plaintext, err := v.decryptGCM(strings.TrimPrefix(encoded, versionedPrefix))
		if err != nil {
			return "", false, err
		}
		return plaintext, false, nil
	}

	plaintext, err := v.decryptLegacy(encoded)
	if err != nil {
		return "", false, err
	}
	return plaintext, true, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	if v == nil || v.key == nil {
		return nil, ErrEncryptionNotConfigured
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (v *Vault) decryptGCM(payload string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoding", ErrDecryption)
	}

	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize+gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}

	return string(plaintext), nil
}

func (v *Vault) decryptLegacy(payload string) (string, error) {
	if v == nil || v.legacyKey == nil {
		return "", ErrEncryptionNotConfigured
	}

	ciphertext, err := hex.DecodeString(payload)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: unrecognised format", ErrDecryption)
	}

	block, err := aes.NewCipher(v.legacyKey)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, v.legacyIV).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	if !bytes.Equal(data[len(data)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	return data[:len(data)-n], nil
}

// bytesToKey mirrors OpenSSL EVP_BytesToKey with MD5, one round and no salt.
func bytesToKey(secret []byte, keyLen, ivLen int) ([]byte, []byte) {
	var derived, prev []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(secret)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}
