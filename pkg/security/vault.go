package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// VaultHeader starts every ansible-vault 1.1 AES256 payload
const VaultHeader = "$ANSIBLE_VAULT;1.1;AES256"

const (
	vaultIterations = 10000
	vaultSaltSize   = 32
	vaultLineWidth  = 80
)

// Vault encrypts and decrypts values in the ansible-vault 1.1 format so
// playbooks can read them with --vault-password-file
type Vault struct {
	password []byte
}

// NewVault creates a vault keyed by the given password
func NewVault(password string) (*Vault, error) {
	if password == "" {
		return nil, fmt.Errorf("vault password cannot be empty")
	}
	return &Vault{password: []byte(password)}, nil
}

// IsEncrypted reports whether s already carries the vault header
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, VaultHeader)
}

// Encrypt returns the vault text of plaintext. Values that are already
// encrypted are returned unchanged.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}

	salt := make([]byte, vaultSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	cipherKey, hmacKey, iv := v.deriveKeys(salt)

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, padded)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(ciphertext)

	var body bytes.Buffer
	body.WriteString(hex.EncodeToString(salt))
	body.WriteByte('\n')
	body.WriteString(hex.EncodeToString(mac.Sum(nil)))
	body.WriteByte('\n')
	body.WriteString(hex.EncodeToString(ciphertext))
	encoded := hex.EncodeToString(body.Bytes())

	var out strings.Builder
	out.WriteString(VaultHeader)
	out.WriteByte('\n')
	for i := 0; i < len(encoded); i += vaultLineWidth {
		end := min(i+vaultLineWidth, len(encoded))
		out.WriteString(encoded[i:end])
		out.WriteByte('\n')
	}
	return out.String(), nil
}

// Decrypt returns the plaintext of a vault text. A value without the vault
// header is returned unchanged.
func (v *Vault) Decrypt(vaultText string) (string, error) {
	if !IsEncrypted(vaultText) {
		return vaultText, nil
	}

	lines := strings.Split(strings.TrimSpace(vaultText), "\n")
	payload, err := hex.DecodeString(strings.Join(lines[1:], ""))
	if err != nil {
		return "", fmt.Errorf("failed to decode vault payload: %w", err)
	}
	parts := bytes.SplitN(payload, []byte("\n"), 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed vault payload")
	}
	salt, err := hex.DecodeString(string(parts[0]))
	if err != nil {
		return "", fmt.Errorf("failed to decode salt: %w", err)
	}
	wantMAC, err := hex.DecodeString(string(parts[1]))
	if err != nil {
		return "", fmt.Errorf("failed to decode hmac: %w", err)
	}
	ciphertext, err := hex.DecodeString(string(parts[2]))
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	cipherKey, hmacKey, iv := v.deriveKeys(salt)
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), wantMAC) {
		return "", fmt.Errorf("failed to decrypt: hmac mismatch")
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (v *Vault) deriveKeys(salt []byte) (cipherKey, hmacKey, iv []byte) {
	material := pbkdf2.Key(v.password, salt, vaultIterations, 2*32+aes.BlockSize, sha256.New)
	return material[:32], material[32:64], material[64:]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
