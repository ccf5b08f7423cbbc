package screener

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadRule reads a rule file (rules/<name>.tdx) as UTF-8 formula text.
// Parsing happens once per run in RunScreen, so a malformed rule is reported
// at load time and never reaches per-symbol evaluation.
func LoadRule(dir, name string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid rule name %q", name)
	}
	path := filepath.Join(dir, name+".tdx")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("load rule %s: %w", name, err)
	}
	return string(data), nil
}
