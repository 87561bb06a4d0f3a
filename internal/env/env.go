// Package env composes the environment handed to a task's child process.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Vars maps variable names to values.
type Vars map[string]string

// Spec describes the child environment. Layers are applied in order: the
// supervisor's own environment (when InheritOS), then each file in Files, then
// Set. Later layers win.
type Spec struct {
	InheritOS bool
	Files     []string
	Set       []string // KEY=VALUE
}

// Empty reports whether the spec changes nothing about the inherited
// environment, in which case the child simply inherits it.
func (s Spec) Empty() bool {
	return s.InheritOS && len(s.Files) == 0 && len(s.Set) == 0
}

// Compose returns the final environment in KEY=VALUE form, sorted by key.
// ${VAR} references are expanded once against the composed set.
func (s Spec) Compose() ([]string, error) {
	m := make(Vars)
	if s.InheritOS {
		putAll(m, os.Environ())
	}
	for _, f := range s.Files {
		fv, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		for k, v := range fv {
			m[k] = v
		}
	}
	for _, kv := range s.Set {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("env entry %q is not KEY=VALUE", kv)
		}
		putAll(m, []string{kv})
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out, nil
}

func putAll(m Vars, kvs []string) {
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
}

// expand replaces ${NAME} with its value in m. Unknown names expand to the
// empty string; the replacement text is not expanded again.
func expand(s string, m Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+2+j]])
		s = s[i+2+j+1:]
	}
	b.WriteString(s)
	return b.String()
}

// LoadFile parses a .env file of KEY=VALUE lines. Blank lines and lines
// starting with # are ignored; there is no quoting or export syntax.
func LoadFile(path string) (Vars, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	m := make(Vars)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			m[k] = strings.TrimSpace(v)
		}
	}
	return m, nil
}
