package auth

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
)

// LoadKeySet reads a JSON Web Key Set from disk. The set is loaded once at
// startup so that claims decoding stays free of network I/O.
func LoadKeySet(path string) (*jose.JSONWebKeySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key set: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse key set: %w", err)
	}
	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("key set %s holds no keys", path)
	}

	for _, k := range set.Keys {
		if !k.Valid() {
			return nil, fmt.Errorf("key set %s holds an invalid key (kid=%q)", path, k.KeyID)
		}
	}

	return &set, nil
}
