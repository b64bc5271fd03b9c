// Package endpoint holds the statically configured remote bus table: each
// peer's name, address, and credentials.
package endpoint

import (
	"fmt"
	"sync"
)

// Name identifies an endpoint uniquely within a bus's configuration.
type Name string

func (n Name) String() string { return string(n) }

// CredentialKind enumerates the supported credential variants.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialBasic
	CredentialDefaultHostIdentity
)

// Credentials carries the material needed to authenticate outbound
// requests to an endpoint. Exactly one variant is populated, selected by
// Kind.
type Credentials struct {
	Kind     CredentialKind
	Username string
	Password string
}

// None is the zero-value, unauthenticated credential.
var None = Credentials{Kind: CredentialNone}

// Basic builds HTTP Basic credentials.
func Basic(username, password string) Credentials {
	return Credentials{Kind: CredentialBasic, Username: username, Password: password}
}

// DefaultHostIdentity builds a credential that authenticates via a signed
// bearer token asserting the sending bus's own identity URI, rather than a
// username/password pair.
func DefaultHostIdentity() Credentials {
	return Credentials{Kind: CredentialDefaultHostIdentity}
}

// Endpoint is a named remote bus instance: an address and optional
// credentials. Unique by Name.
type Endpoint struct {
	Name        Name
	Address     string
	Credentials Credentials
}

// Table is the immutable-after-Init set of configured endpoints, indexed
// by name and by address for ad-hoc resolution.
type Table struct {
	mu        sync.RWMutex
	byName    map[Name]Endpoint
	byAddress map[string]Endpoint
}

// NewTable builds an empty endpoint table.
func NewTable() *Table {
	return &Table{
		byName:    make(map[Name]Endpoint),
		byAddress: make(map[string]Endpoint),
	}
}

// Add registers an endpoint, failing if its name is already registered.
func (t *Table) Add(ep Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[ep.Name]; exists {
		return fmt.Errorf("endpoint.Table: endpoint %q already registered", ep.Name)
	}

	t.byName[ep.Name] = ep
	t.byAddress[ep.Address] = ep
	return nil
}

// ByName resolves an endpoint by its configured name.
func (t *Table) ByName(name Name) (Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.byName[name]
	return ep, ok
}

// ByAddress resolves an endpoint by its configured address, for ad-hoc
// resolution when a caller addresses a Send by URI directly.
func (t *Table) ByAddress(address string) (Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.byAddress[address]
	return ep, ok
}

// All returns a snapshot of every registered endpoint.
func (t *Table) All() []Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Endpoint, 0, len(t.byName))
	for _, ep := range t.byName {
		out = append(out, ep)
	}
	return out
}
