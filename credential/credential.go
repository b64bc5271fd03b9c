// Package credential authenticates outbound requests and verifies
// inbound ones for the two supported endpoint.Credentials variants:
// HTTP Basic and signed default-host-identity bearer tokens.
package credential

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relaybus/relaybus/crypto"
)

// ErrUnauthorized is returned when inbound credentials fail
// verification.
var ErrUnauthorized = errors.New("credential: unauthorized")

// BasicStore resolves the expected password hash and salt for a
// username, for verifying inbound HTTP Basic credentials.
type BasicStore interface {
	Lookup(username string) (hash, salt []byte, ok bool)
}

// ApplyBasic sets the Authorization header for an outbound request
// using HTTP Basic credentials.
func ApplyBasic(header http.Header, username, password string) {
	header.Set("Authorization", "Basic "+basicToken(username, password))
}

func basicToken(username, password string) string {
	raw := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// VerifyBasic checks the Authorization header of an inbound request
// against a BasicStore.
func VerifyBasic(header http.Header, store BasicStore) error {
	username, password, ok := parseBasicHeader(header.Get("Authorization"))
	if !ok {
		return fmt.Errorf("%w: missing or malformed Basic credentials", ErrUnauthorized)
	}

	hash, salt, ok := store.Lookup(username)
	if !ok {
		return fmt.Errorf("%w: unknown principal %q", ErrUnauthorized, username)
	}

	if !crypto.VerifyPassword(password, hash, salt) {
		return fmt.Errorf("%w: bad credentials for %q", ErrUnauthorized, username)
	}

	return nil
}

func parseBasicHeader(value string) (username, password string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(value, prefix) {
		return "", "", false
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", "", false
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// HostIdentity signs and verifies bearer tokens that assert a bus's
// own address as its identity, in place of a shared password. Each
// bus instance holds one HostIdentity keypair.
type HostIdentity struct {
	selfURI    string
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewHostIdentity builds a HostIdentity for selfURI using the given
// Ed25519 keypair.
func NewHostIdentity(selfURI string, privateKey ed25519.PrivateKey, publicKey ed25519.PublicKey) *HostIdentity {
	return &HostIdentity{selfURI: selfURI, privateKey: privateKey, publicKey: publicKey}
}

// PublicKey returns this host's verification key, to be distributed
// to peers out of band so they can call VerifyHostIdentity.
func (h *HostIdentity) PublicKey() ed25519.PublicKey { return h.publicKey }

// ApplyDefaultHostIdentity signs a token asserting this host's
// identity and attaches it as a bearer Authorization header.
func (h *HostIdentity) ApplyDefaultHostIdentity(header http.Header, ttl time.Duration) error {
	token, err := crypto.GenerateToken(crypto.TokenClaims{
		Subject:   h.selfURI,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}, h.privateKey)
	if err != nil {
		return fmt.Errorf("credential: sign host identity token: %w", err)
	}

	header.Set("Authorization", "Bearer "+token)
	return nil
}

// VerifyHostIdentity validates an inbound bearer token against a
// known peer public key and returns the identity URI it asserts.
func VerifyHostIdentity(header http.Header, peerPublicKey ed25519.PublicKey) (string, error) {
	const prefix = "Bearer "
	value := header.Get("Authorization")
	if !strings.HasPrefix(value, prefix) {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	claims, err := crypto.VerifyToken(strings.TrimPrefix(value, prefix), peerPublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	return claims.Subject, nil
}
