// Package store reads the chains and tracked contracts the node serves, from
// Postgres or from the static configuration.
package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/paralink-network/paralink-node/internal/chain"
	"github.com/paralink-network/paralink-node/internal/config"
)

// Credentials is a JSONB map of chain credentials.
type Credentials map[string]string

// Scan implements sql.Scanner.
func (c *Credentials) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = Credentials{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("credentials: unsupported type %T", src)
	}
	out := Credentials{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
	}
	*c = out
	return nil
}

// Value implements driver.Valuer.
func (c Credentials) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(c))
}

// Chain is a persisted chain row.
type Chain struct {
	Name        string      `db:"name"`
	Type        string      `db:"type"`
	URL         string      `db:"url"`
	Active      bool        `db:"active"`
	Credentials Credentials `db:"credentials"`
}

// Contract is a persisted contract row.
type Contract struct {
	ID     string `db:"id"`
	Chain  string `db:"chain"`
	Active bool   `db:"active"`
}

// Source lists the configured chains and contracts.
type Source interface {
	ListChains(ctx context.Context) ([]Chain, error)
	// ListContracts returns the contracts of chainName, or all contracts
	// when chainName is empty.
	ListContracts(ctx context.Context, chainName string) ([]Contract, error)
}

// LoadChains joins chains with their active contracts.
func LoadChains(ctx context.Context, src Source) ([]chain.Config, error) {
	chains, err := src.ListChains(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	contracts, err := src.ListContracts(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}

	tracked := make(map[string][]string)
	for _, c := range contracts {
		if c.Active {
			tracked[c.Chain] = append(tracked[c.Chain], c.ID)
		}
	}

	out := make([]chain.Config, 0, len(chains))
	for _, c := range chains {
		ids := tracked[c.Name]
		sort.Strings(ids)
		out = append(out, chain.Config{
			Name:             c.Name,
			Type:             chain.Type(strings.ToLower(c.Type)),
			URL:              c.URL,
			Active:           c.Active,
			Credentials:      map[string]string(c.Credentials),
			TrackedContracts: ids,
		})
	}
	return out, nil
}

// Static serves the chains listed in the configuration file. Every listed
// contract is active.
type Static struct {
	chains []config.ChainConfig
}

var _ Source = (*Static)(nil)

// NewStatic wraps static chain configuration.
func NewStatic(chains []config.ChainConfig) *Static {
	return &Static{chains: chains}
}

func (s *Static) ListChains(context.Context) ([]Chain, error) {
	out := make([]Chain, 0, len(s.chains))
	for _, c := range s.chains {
		out = append(out, Chain{
			Name:        c.Name,
			Type:        c.Type,
			URL:         c.URL,
			Active:      c.Active,
			Credentials: Credentials(c.Credentials),
		})
	}
	return out, nil
}

func (s *Static) ListContracts(_ context.Context, chainName string) ([]Contract, error) {
	var out []Contract
	for _, c := range s.chains {
		if chainName != "" && c.Name != chainName {
			continue
		}
		for _, id := range c.TrackedContracts {
			out = append(out, Contract{ID: id, Chain: c.Name, Active: true})
		}
	}
	return out, nil
}
