package security

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Secrets is the content of data/var/secrets.json
type Secrets struct {
	Token    string   `json:"token"`
	ADCMUser ADCMUser `json:"adcmuser"`
}

// ADCMUser is the service account plugins use to call back into ADCM
type ADCMUser struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// LoadSecrets reads secrets.json, creating it with fresh random values
// when it does not exist
func LoadSecrets(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var s Secrets
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if s.Token == "" {
			return nil, fmt.Errorf("%s has no status token", path)
		}
		return &s, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	token, err := RandomToken(20)
	if err != nil {
		return nil, err
	}
	password, err := RandomToken(16)
	if err != nil {
		return nil, err
	}
	s := &Secrets{Token: token, ADCMUser: ADCMUser{User: "system", Password: password}}
	data, err = json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := writePrivate(path, data); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadVaultPassword reads the vault password file, generating it when
// missing. The same file is handed to ansible-playbook.
func LoadVaultPassword(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		password := strings.TrimSpace(string(data))
		if password == "" {
			return "", fmt.Errorf("vault password file %s is empty", path)
		}
		return password, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	password, err := RandomToken(32)
	if err != nil {
		return "", err
	}
	if err := writePrivate(path, []byte(password)); err != nil {
		return "", err
	}
	return password, nil
}

// RandomToken returns n random bytes hex encoded
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func writePrivate(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
