package credential

import (
	"crypto/ed25519"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/relaybus/relaybus/crypto"
)

type memBasicStore map[string][2][]byte

func (m memBasicStore) Lookup(username string) ([]byte, []byte, bool) {
	v, ok := m[username]
	if !ok {
		return nil, nil, false
	}
	return v[0], v[1], true
}

func TestApplyAndVerifyBasic(t *testing.T) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	hash := crypto.HashPassword("s3cret", salt)
	store := memBasicStore{"node-a": {hash, salt}}

	header := http.Header{}
	ApplyBasic(header, "node-a", "s3cret")

	if err := VerifyBasic(header, store); err != nil {
		t.Errorf("VerifyBasic() = %v, want nil", err)
	}
}

func TestVerifyBasicWrongPassword(t *testing.T) {
	salt, _ := crypto.GenerateSalt()
	hash := crypto.HashPassword("s3cret", salt)
	store := memBasicStore{"node-a": {hash, salt}}

	header := http.Header{}
	ApplyBasic(header, "node-a", "wrong")

	if err := VerifyBasic(header, store); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("VerifyBasic() = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyBasicUnknownUser(t *testing.T) {
	store := memBasicStore{}
	header := http.Header{}
	ApplyBasic(header, "ghost", "whatever")

	if err := VerifyBasic(header, store); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("VerifyBasic() = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyBasicMalformedHeader(t *testing.T) {
	header := http.Header{}
	header.Set("Authorization", "Bearer not-basic")

	if err := VerifyBasic(header, memBasicStore{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("VerifyBasic() = %v, want ErrUnauthorized", err)
	}
}

func TestHostIdentityRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	identity := NewHostIdentity("http://node-a.internal/", priv, pub)

	header := http.Header{}
	if err := identity.ApplyDefaultHostIdentity(header, time.Minute); err != nil {
		t.Fatalf("ApplyDefaultHostIdentity: %v", err)
	}

	subject, err := VerifyHostIdentity(header, pub)
	if err != nil {
		t.Fatalf("VerifyHostIdentity: %v", err)
	}
	if subject != "http://node-a.internal/" {
		t.Errorf("subject = %q, want %q", subject, "http://node-a.internal/")
	}
}

func TestVerifyHostIdentityWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)

	identity := NewHostIdentity("http://node-a.internal/", priv, nil)
	header := http.Header{}
	identity.ApplyDefaultHostIdentity(header, time.Minute)

	if _, err := VerifyHostIdentity(header, otherPub); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("VerifyHostIdentity() = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyHostIdentityMissingToken(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	header := http.Header{}

	if _, err := VerifyHostIdentity(header, pub); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("VerifyHostIdentity() = %v, want ErrUnauthorized", err)
	}
}
