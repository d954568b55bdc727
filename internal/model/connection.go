package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hqmotech/forwarder/pkg/security"
)

type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeBearer AuthType = "bearer"
)

// ConnectionSettings describes a remote endpoint that payloads are forwarded
// to. Credentials are stored encrypted and only decrypted at send time; the
// delivery engine never mutates these rows.
type ConnectionSettings struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	Domain            string         `json:"domain" db:"domain"`
	Name              string         `json:"name" db:"name"`
	URL               string         `json:"url" db:"url"`
	AuthType          AuthType       `json:"auth_type" db:"auth_type"`
	Username          string         `json:"username" db:"username"`
	EncryptedPassword []byte         `json:"-" db:"encrypted_password"`
	SkipCertVerify    bool           `json:"skip_cert_verify" db:"skip_cert_verify"`
	NotifyAddresses   pq.StringArray `json:"notify_addresses" db:"notify_addresses"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// PlaintextPassword decrypts the stored credential material. The plaintext is
// never persisted or logged.
func (c *ConnectionSettings) PlaintextPassword(enc security.Encryptor) (string, error) {
	if len(c.EncryptedPassword) == 0 {
		return "", nil
	}
	plain, err := enc.Decrypt(c.EncryptedPassword)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// SetPassword encrypts and stores the credential material.
func (c *ConnectionSettings) SetPassword(enc security.Encryptor, plaintext string) error {
	if plaintext == "" {
		c.EncryptedPassword = nil
		return nil
	}
	ciphertext, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		return err
	}
	c.EncryptedPassword = ciphertext
	return nil
}
