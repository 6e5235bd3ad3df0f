// ABOUTME: Token vault sealing OAuth tokens with ChaCha20-Poly1305 before persistence
// ABOUTME: Ciphertexts are bound to their (user, server) pair via AEAD associated data

package store

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Vault seals token material before it reaches the TokenStore and opens it
// on the way back out. Plaintext tokens never touch the database. The
// associated data binds each ciphertext to its row key, so a blob copied
// between rows will not open.
type Vault struct {
	tokens TokenStore
	aead   cipher.AEAD
}

// ParseVaultKey decodes a base64 (std encoding) vault key and checks its size
func ParseVaultKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding vault key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// GenerateVaultKey returns a fresh random key in the encoding ParseVaultKey
// accepts, for use by the init command
func GenerateVaultKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating vault key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// NewVault builds a vault over the given token store with a 32-byte key
func NewVault(tokens TokenStore, key []byte) (*Vault, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("initializing vault cipher: %w", err)
	}
	return &Vault{tokens: tokens, aead: aead}, nil
}

func rowKey(userID, serverID string) []byte {
	return []byte(userID + "\x00" + serverID)
}

// Put seals plaintext token material and stores it for the pair
func (v *Vault) Put(ctx context.Context, userID, serverID string, plaintext []byte) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	// sealed layout: nonce || ciphertext
	sealed := v.aead.Seal(nonce, nonce, plaintext, rowKey(userID, serverID))
	return v.tokens.PutToken(ctx, userID, serverID, sealed)
}

// Get loads and opens the sealed token for the pair. Returns ErrNotFound
// when no token is stored.
func (v *Vault) Get(ctx context.Context, userID, serverID string) ([]byte, error) {
	sealed, err := v.tokens.GetToken(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}
	if len(sealed) < v.aead.NonceSize() {
		return nil, fmt.Errorf("sealed token too short")
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, rowKey(userID, serverID))
	if err != nil {
		return nil, fmt.Errorf("opening sealed token: %w", err)
	}
	return plaintext, nil
}

// Delete removes any stored token for the pair
func (v *Vault) Delete(ctx context.Context, userID, serverID string) error {
	return v.tokens.DeleteToken(ctx, userID, serverID)
}
