// Package packagers attributes builds to a packager identity.
package packagers

import "strings"

// Packagers maps package bases to the identity recorded as their
// packager.
type Packagers struct {
	Default   string            `mapstructure:"default"`
	Overrides map[string]string `mapstructure:"overrides"`
}

// ForBase returns the override for base if there is one, else the
// default, else the empty string.  Overrides loaded through viper have
// lowercased keys, so a miss is retried in lower case.
func (p Packagers) ForBase(base string) string {
	for _, k := range []string{base, strings.ToLower(base)} {
		if who, ok := p.Overrides[k]; ok && who != "" {
			return who
		}
	}
	return p.Default
}
