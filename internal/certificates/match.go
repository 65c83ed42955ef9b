package certificates

import (
	"sort"
	"strings"
	"unicode"
)

const certPrefix = "CERT"

// normalize strips everything but letters and digits and lowercases the rest.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// variants returns alternate spellings of id worth an exact lookup, in the
// order they are tried. id itself is never included.
func variants(id string) []string {
	dashed := strings.Join(strings.Fields(id), "-")
	spaced := strings.ReplaceAll(id, "-", " ")
	stripped := strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, id)

	candidates := []string{spaced, dashed, stripped}
	upper := strings.ToUpper(id)
	switch {
	case strings.HasPrefix(upper, certPrefix+" "):
		candidates = append(candidates, certPrefix+"-"+strings.TrimSpace(id[len(certPrefix)+1:]))
	case strings.HasPrefix(upper, certPrefix+"-"):
		candidates = append(candidates, certPrefix+" "+id[len(certPrefix)+1:])
	}
	candidates = append(candidates, upper, strings.ToUpper(dashed))

	seen := map[string]struct{}{id: {}}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// fragments returns the substrings used to search for fuzzy candidates:
// the separator-split parts of id other than the prefix, longest first. An id
// typed without separators is cut at the positions of the generated format.
func fragments(id string) []string {
	var parts []string
	for _, p := range strings.FieldsFunc(id, isSeparator) {
		if strings.EqualFold(p, certPrefix) || len(p) < 4 {
			continue
		}
		parts = append(parts, p)
	}
	if len(parts) == 1 {
		n := normalize(parts[0])
		n = strings.TrimPrefix(n, strings.ToLower(certPrefix))
		if len(n) == 12 {
			parts = []string{n[:8], n[8:]}
		}
	}
	sort.SliceStable(parts, func(i, j int) bool { return len(parts[i]) > len(parts[j]) })
	return parts
}

// similarity is 1 minus the Levenshtein distance of a and b over the longer length.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
