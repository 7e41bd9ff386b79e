// Package auth authenticates CSTP requests against a pre-provisioned table
// of bearer tokens. Tokens are hashed with Argon2id at load time and
// verified with a constant-time comparison, so no plaintext token is ever
// retained in memory or compared with a timing-sensitive operation.
package auth

import (
	"fmt"

	"github.com/ashita-ai/cstpd/internal/config"
)

// entry is one hashed token bound to an agent id.
type entry struct {
	agentID  string
	hash     string
}

// Table is the process-wide bearer-token table. It is immutable after
// construction: tokens are provisioned from config at startup, not at runtime.
type Table struct {
	entries []entry
}

// NewTable hashes every configured token and builds the lookup table.
func NewTable(tokens []config.TokenEntry) (*Table, error) {
	t := &Table{entries: make([]entry, 0, len(tokens))}
	for _, tok := range tokens {
		if tok.Token == "" || tok.Agent == "" {
			return nil, fmt.Errorf("auth: token entry for agent %q is missing a token value", tok.Agent)
		}
		hash, err := HashToken(tok.Token)
		if err != nil {
			return nil, fmt.Errorf("auth: hash token for agent %q: %w", tok.Agent, err)
		}
		t.entries = append(t.entries, entry{agentID: tok.Agent, hash: hash})
	}
	return t, nil
}

// Authenticate compares token against each hashed entry in turn, each
// comparison in constant time, and returns the bound agent id of the first
// match. A miss runs one extra DummyVerify after the full scan; a hit returns
// without scanning the remaining entries. ok is false when no entry matches.
func (t *Table) Authenticate(token string) (agentID string, ok bool) {
	if token == "" {
		return "", false
	}
	for _, e := range t.entries {
		matched, err := VerifyToken(token, e.hash)
		if err == nil && matched {
			return e.agentID, true
		}
	}
	DummyVerify()
	return "", false
}

// Len reports how many tokens are provisioned, mainly for /health and tests.
func (t *Table) Len() int { return len(t.entries) }
