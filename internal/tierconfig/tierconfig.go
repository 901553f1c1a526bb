// Package tierconfig holds the static mapping from (service kind,
// subscription tier) to the ordered provider chain tried for that pair.
// The table is immutable after construction and exhaustively validated, so
// a missing mapping is a startup error, never a runtime one. Adding a
// provider or reordering a chain is a change to this package only.
package tierconfig

import (
	"fmt"

	"github.com/iamade/litinkapp-sub002/internal/domain"
)

// Key identifies one chain in the table.
type Key struct {
	Kind domain.ServiceKind
	Tier domain.Tier
}

// Table resolves (kind, tier) pairs to ordered candidate chains.
type Table struct {
	chains map[Key][]domain.ProviderCandidate
}

// New builds a validated table from raw chains keyed by (kind, tier).
// Every pair in the full kind x tier cross product must be present with
// one to three candidates, distinct provider IDs, and ranks matching
// chain position.
func New(chains map[Key][]string) (*Table, error) {
	t := &Table{chains: make(map[Key][]domain.ProviderCandidate, len(chains))}

	for key, ids := range chains {
		if !key.Kind.Valid() {
			return nil, fmt.Errorf("tier config: unknown service kind %q", key.Kind)
		}
		if !key.Tier.Valid() {
			return nil, fmt.Errorf("tier config: unknown tier %q", key.Tier)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("tier config: empty chain for (%s, %s)", key.Kind, key.Tier)
		}
		if len(ids) > domain.RankFallback2+1 {
			return nil, fmt.Errorf("tier config: chain for (%s, %s) has %d candidates, max is %d",
				key.Kind, key.Tier, len(ids), domain.RankFallback2+1)
		}

		seen := make(map[string]bool, len(ids))
		candidates := make([]domain.ProviderCandidate, 0, len(ids))
		for rank, id := range ids {
			if id == "" {
				return nil, fmt.Errorf("tier config: empty provider id at rank %d for (%s, %s)", rank, key.Kind, key.Tier)
			}
			if seen[id] {
				return nil, fmt.Errorf("tier config: duplicate provider %q in chain for (%s, %s)", id, key.Kind, key.Tier)
			}
			seen[id] = true
			candidates = append(candidates, domain.ProviderCandidate{ID: id, Rank: rank})
		}
		t.chains[key] = candidates
	}

	for _, kind := range domain.Kinds() {
		for _, tier := range domain.Tiers() {
			if _, ok := t.chains[Key{Kind: kind, Tier: tier}]; !ok {
				return nil, fmt.Errorf("tier config: no chain for (%s, %s)", kind, tier)
			}
		}
	}

	return t, nil
}

// Resolve returns the ordered candidate chain for (kind, tier). The table
// is exhaustive by construction, so an error here means the caller passed
// an unvalidated kind or tier.
func (t *Table) Resolve(kind domain.ServiceKind, tier domain.Tier) ([]domain.ProviderCandidate, error) {
	chain, ok := t.chains[Key{Kind: kind, Tier: tier}]
	if !ok {
		return nil, fmt.Errorf("tier config: no chain for (%s, %s)", kind, tier)
	}

	out := make([]domain.ProviderCandidate, len(chain))
	copy(out, chain)
	return out, nil
}

// Providers returns the distinct provider IDs referenced anywhere in the
// table, used at startup to pre-register circuit breakers and to check
// invoker coverage.
func (t *Table) Providers() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, chain := range t.chains {
		for _, c := range chain {
			if !seen[c.ID] {
				seen[c.ID] = true
				ids = append(ids, c.ID)
			}
		}
	}
	return ids
}
