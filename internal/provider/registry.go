// Package provider contains the invoker implementations behind fallback
// chain candidates. A candidate ID is "vendor/model"; the registry
// dispatches on the vendor prefix and hands the model suffix to the
// vendor's adapter.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/fallback"
)

// Registry routes candidate invocations to per-vendor adapters. It is
// itself the single fallback.Invoker handed to the task runner.
type Registry struct {
	vendors map[string]fallback.Invoker
}

func NewRegistry() *Registry {
	return &Registry{vendors: make(map[string]fallback.Invoker)}
}

// Register binds a vendor prefix (the part of the candidate ID before
// the slash) to an adapter.
func (r *Registry) Register(vendor string, invoker fallback.Invoker) {
	r.vendors[vendor] = invoker
}

// Vendors returns the registered vendor prefixes.
func (r *Registry) Vendors() []string {
	out := make([]string, 0, len(r.vendors))
	for v := range r.vendors {
		out = append(out, v)
	}
	return out
}

// Covers reports whether every given candidate ID has a registered
// vendor. Called at startup against tierconfig.Providers so a chain can
// never reference an unregistered vendor at runtime.
func (r *Registry) Covers(candidateIDs []string) error {
	for _, id := range candidateIDs {
		vendor, _, err := splitCandidateID(id)
		if err != nil {
			return err
		}
		if _, ok := r.vendors[vendor]; !ok {
			return fmt.Errorf("%w: no adapter registered for vendor %q (candidate %q)",
				domain.ErrProviderNotFound, vendor, id)
		}
	}
	return nil
}

func (r *Registry) Invoke(ctx context.Context, candidate domain.ProviderCandidate, payload json.RawMessage) (*domain.GenerationResult, error) {
	vendor, _, err := splitCandidateID(candidate.ID)
	if err != nil {
		return nil, domain.Fatal(err)
	}

	invoker, ok := r.vendors[vendor]
	if !ok {
		return nil, domain.Fatal(fmt.Errorf("%w: vendor %q", domain.ErrProviderNotFound, vendor))
	}

	return invoker.Invoke(ctx, candidate, payload)
}

func splitCandidateID(id string) (vendor, model string, err error) {
	vendor, model, ok := strings.Cut(id, "/")
	if !ok || vendor == "" || model == "" {
		return "", "", fmt.Errorf("%w: malformed candidate id %q", domain.ErrProviderNotFound, id)
	}
	return vendor, model, nil
}

// Model returns the model suffix of a candidate ID. Adapters use it to
// address the concrete model within their vendor API.
func Model(candidateID string) string {
	_, model, _ := strings.Cut(candidateID, "/")
	return model
}

// Vendor returns the vendor prefix of a candidate ID.
func Vendor(candidateID string) string {
	vendor, _, _ := strings.Cut(candidateID, "/")
	return vendor
}
