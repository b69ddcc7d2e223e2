package chain

import (
	_ "embed"
	"encoding/json"
	"strings"
	"sync"
)

//go:embed reference.json
var referenceJSON []byte

// Reference is the expected identity of a named network.
type Reference struct {
	Name       string  `json:"name"`
	ChainID    uint64  `json:"chainId"`
	NetworkID  uint64  `json:"networkId"`
	SS58Prefix *uint16 `json:"ss58Prefix,omitempty"`
}

var (
	referenceOnce sync.Once
	references    map[string]Reference
)

// LookupReference returns the reference entry for a chain name.
func LookupReference(name string) (Reference, bool) {
	referenceOnce.Do(func() {
		var list []Reference
		if err := json.Unmarshal(referenceJSON, &list); err != nil {
			panic("chain: invalid embedded reference data: " + err.Error())
		}
		references = make(map[string]Reference, len(list))
		for _, r := range list {
			references[strings.ToLower(r.Name)] = r
		}
	})
	r, ok := references[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}
