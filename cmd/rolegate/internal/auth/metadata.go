package auth

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// MetadataRole walks each dotted path (e.g. "app_metadata.role") through the
// provided metadata maps and returns the first non-empty role found.
// Maps are consulted in order, so provider user metadata can take precedence
// over metadata embedded in the token.
func MetadataRole(paths []string, sources ...map[string]any) Role {
	for _, src := range sources {
		if len(src) == 0 {
			continue
		}
		for _, path := range paths {
			if role := lookupRole(src, path); role != "" {
				return role
			}
		}
	}
	return ""
}

func lookupRole(src map[string]any, path string) Role {
	parts := strings.Split(path, ".")
	var current any = src
	for _, part := range parts {
		var m map[string]any
		if err := mapstructure.Decode(current, &m); err != nil || m == nil {
			return ""
		}
		next, ok := m[part]
		if !ok {
			return ""
		}
		current = next
	}

	value, ok := current.(string)
	if !ok {
		return ""
	}
	return Role(strings.TrimSpace(value))
}
