package auth

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// keysetFile is read with the YAML decoder, which also accepts JSON.
type keysetFile struct {
	ActiveKID string            `yaml:"active_kid"`
	Keys      map[string]string `yaml:"keys"`
}

// LoadHMACKeysetFile reads a keyset of the form
//
//	active_kid: k2
//	keys: {k1: secret1, k2: secret2}
func LoadHMACKeysetFile(path string) (HMACKeyset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return HMACKeyset{}, fmt.Errorf("read jwt keyset file: %w", err)
	}
	var f keysetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return HMACKeyset{}, fmt.Errorf("decode jwt keyset file: %w", err)
	}
	pairs := make([]string, 0, len(f.Keys))
	for kid, secret := range f.Keys {
		kid, secret = strings.TrimSpace(kid), strings.TrimSpace(secret)
		if kid == "" || secret == "" {
			continue
		}
		pairs = append(pairs, kid+":"+secret)
	}
	if len(pairs) == 0 {
		return HMACKeyset{}, fmt.Errorf("jwt keyset file %s contains no keys", path)
	}
	return ParseHMACKeyset("", strings.Join(pairs, ","), f.ActiveKID)
}
