package tdx

import (
	"regexp"
	"strings"
)

// SymbolMeta is the per-symbol metadata INBLOCK and NAMELIKE resolve against.
// These two are not per-bar functions: they depend only on the symbol, so the
// screening orchestrator can also apply them once per run, before any bar
// evaluation happens.
type SymbolMeta struct {
	Code     string
	Name     string
	Exchange string
}

// InBlock decides board membership by code prefix / exchange, the offline
// approximation used for A-share boards.
func (m SymbolMeta) InBlock(block string) bool {
	b := strings.TrimSpace(block)
	code := m.Code
	switch b {
	case "创业板":
		return hasAnyPrefix(code, "300", "301", "302")
	case "科创板":
		return hasAnyPrefix(code, "688", "689")
	case "北证A股", "北证":
		return strings.EqualFold(m.Exchange, "BJ") ||
			hasAnyPrefix(code, "83", "87", "88", "92")
	}
	// boards we do not model are simply not matched
	return false
}

// NameLike matches the symbol name against a pattern. Without '*' it is a
// substring test; '*' matches any run of characters.
func (m SymbolMeta) NameLike(pattern string) bool {
	p := strings.TrimSpace(pattern)
	name := strings.TrimSpace(m.Name)
	if p == "" {
		return false
	}
	if !strings.Contains(p, "*") {
		return strings.Contains(name, p)
	}
	rePat := strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, ".*")
	re, err := regexp.Compile(rePat)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
