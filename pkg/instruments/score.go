package instruments

import (
	"math"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// MatchScore ranks how well a free-text query matches an instrument.
// Exact symbol matches score 1.0, symbol prefixes 0.9, name-word
// prefixes at least 0.85. Everything else falls back to sequence
// similarity, with name words discounted against the symbol.
func MatchScore(query, symbol, name string) float64 {
	query = strings.ToUpper(strings.TrimSpace(query))
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if query == symbol {
		return 1.0
	}
	if strings.HasPrefix(symbol, query) {
		return 0.9
	}

	symbolRatio := seqRatio(query, symbol)

	if name != "" {
		words := strings.Fields(strings.ToUpper(name))
		for _, w := range words {
			if strings.HasPrefix(w, query) {
				return math.Max(0.85, symbolRatio)
			}
		}
		var nameRatio float64
		for _, w := range words {
			if r := seqRatio(query, w); r > nameRatio {
				nameRatio = r
			}
		}
		return math.Max(symbolRatio, nameRatio*0.8)
	}
	return symbolRatio
}

// seqRatio is difflib's matching-character ratio over the two strings:
// 2*matches / (len(a)+len(b)).
func seqRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}
