package credential

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"strings"
)

// Identifier implements the inbound identity check consumed by
// transport.Server: it resolves the Authorization header against a
// BasicStore for "Basic" credentials and against a set of trusted
// peer public keys for signed "Bearer" DefaultHostIdentity tokens. A
// request with no Authorization header is treated as anonymous,
// matching a nil transport.Identifier's behavior.
type Identifier struct {
	basicStore BasicStore
	peerKeys   []ed25519.PublicKey
}

// NewIdentifier builds an Identifier. store may be nil to reject every
// Basic credential outright; peerKeys lists the public keys of the
// hosts whose DefaultHostIdentity bearer tokens this server accepts.
func NewIdentifier(store BasicStore, peerKeys ...ed25519.PublicKey) *Identifier {
	return &Identifier{basicStore: store, peerKeys: peerKeys}
}

// IdentifyRequest resolves the sending bus's identity from r, matching
// the transport.Identifier contract without importing the transport
// package.
func (id *Identifier) IdentifyRequest(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")

	switch {
	case auth == "":
		return "", nil
	case strings.HasPrefix(auth, "Basic "):
		if id.basicStore == nil {
			return "", fmt.Errorf("%w: basic credentials not accepted", ErrUnauthorized)
		}
		if err := VerifyBasic(r.Header, id.basicStore); err != nil {
			return "", err
		}
		username, _, _ := parseBasicHeader(auth)
		return username, nil
	case strings.HasPrefix(auth, "Bearer "):
		for _, pub := range id.peerKeys {
			subject, err := VerifyHostIdentity(r.Header, pub)
			if err == nil {
				return subject, nil
			}
		}
		return "", fmt.Errorf("%w: bearer token matches no trusted peer key", ErrUnauthorized)
	default:
		return "", fmt.Errorf("%w: unsupported authorization scheme", ErrUnauthorized)
	}
}
