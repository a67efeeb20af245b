package intent

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// phoneticThreshold is the minimum Jaro-Winkler score for an alias that
	// already shares a Double Metaphone code with the spoken name.
	phoneticThreshold = 0.70

	// fuzzyThreshold is the minimum Jaro-Winkler score when no phonetic
	// overlap exists. Higher because string similarity alone is weaker
	// evidence against ASR mishearings.
	fuzzyThreshold = 0.85
)

// AppMatcher resolves spoken application names to their canonical form using
// a configured alias table. Exact alias hits resolve directly; everything
// else goes through Double Metaphone candidate filtering ranked by
// Jaro-Winkler similarity, which absorbs the usual ASR mangling of product
// names ("fire fox", "note pad", "crome").
//
// The matcher is read-only after construction and safe for concurrent use.
type AppMatcher struct {
	exact   map[string]string // lowercased alias → canonical
	aliases []aliasEntry
}

type aliasEntry struct {
	alias     string
	canonical string
	codes     map[string]struct{}
}

// NewAppMatcher builds a matcher from canonical-name → alias-list pairs. The
// canonical name itself is always accepted as one of its aliases.
func NewAppMatcher(apps map[string][]string) *AppMatcher {
	m := &AppMatcher{exact: make(map[string]string)}
	// Sort canonical names so alias precedence is deterministic.
	canonicals := make([]string, 0, len(apps))
	for canonical := range apps {
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)

	for _, canonical := range canonicals {
		names := append([]string{canonical}, apps[canonical]...)
		for _, alias := range names {
			lower := strings.ToLower(strings.TrimSpace(alias))
			if lower == "" {
				continue
			}
			if _, taken := m.exact[lower]; !taken {
				m.exact[lower] = canonical
			}
			m.aliases = append(m.aliases, aliasEntry{
				alias:     lower,
				canonical: canonical,
				codes:     metaphoneCodes(strings.Fields(lower)),
			})
		}
	}
	return m
}

// Resolve maps a spoken name to its canonical application name. When no
// alias matches, the input is returned unchanged with ok=false; the caller
// keeps the raw name so unlisted applications still work.
func (m *AppMatcher) Resolve(name string) (canonical string, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return name, false
	}
	if c, hit := m.exact[lower]; hit {
		return c, true
	}

	tokens := strings.Fields(lower)
	inputCodes := metaphoneCodes(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range m.aliases {
		phonetic := codesOverlap(inputCodes, e.codes)
		score := bestSimilarity(lower, tokens, e.alias)

		switch {
		case phonetic && score >= phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = e.canonical, score, true
			}
		case !phonetic && !bestPhonetic && score >= fuzzyThreshold && score > bestScore:
			best, bestScore = e.canonical, score
		}
	}
	if best == "" {
		return name, false
	}
	return best, true
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity is the highest Jaro-Winkler score across three comparisons:
// the full strings, the space-stripped strings ("note pad" vs "notepad"),
// and the best token pair.
func bestSimilarity(input string, inputTokens []string, alias string) float64 {
	score := matchr.JaroWinkler(input, alias, false)

	aliasTokens := strings.Fields(alias)
	if len(inputTokens) > 1 || len(aliasTokens) > 1 {
		if s := matchr.JaroWinkler(
			strings.Join(inputTokens, ""),
			strings.Join(aliasTokens, ""),
			false,
		); s > score {
			score = s
		}
	}
	for _, it := range inputTokens {
		for _, at := range aliasTokens {
			if s := matchr.JaroWinkler(it, at, false); s > score {
				score = s
			}
		}
	}
	return score
}
