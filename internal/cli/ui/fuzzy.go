package ui

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// DefaultMaxDistance is the largest edit distance FindSimilar accepts
	DefaultMaxDistance = 3
	// DefaultMaxSuggestions caps the number of names FindSimilar returns
	DefaultMaxSuggestions = 3
)

// FuzzyMatchOptions configures FindSimilar. Zero fields take the defaults.
type FuzzyMatchOptions struct {
	MaxDistance    int
	MaxSuggestions int
	CaseSensitive  bool
}

type match struct {
	name     string
	distance int
}

// FindSimilar returns the candidates closest to target, nearest first and
// ties by name. Scene names are compared without their USD extension, and
// the accepted distance shrinks for short names so "arm" does not suggest
// every three-letter scene.
//
//	FindSimilar("rbot.usda", []string{"robot.usda", "cell.usda"}, nil) // ["robot.usda"]
func FindSimilar(target string, candidates []string, opts *FuzzyMatchOptions) []string {
	o := FuzzyMatchOptions{MaxDistance: DefaultMaxDistance, MaxSuggestions: DefaultMaxSuggestions}
	if opts != nil {
		o.CaseSensitive = opts.CaseSensitive
		if opts.MaxDistance > 0 {
			o.MaxDistance = opts.MaxDistance
		}
		if opts.MaxSuggestions > 0 {
			o.MaxSuggestions = opts.MaxSuggestions
		}
	}

	fold := func(s string) string {
		s = sceneStem(s)
		if !o.CaseSensitive {
			s = strings.ToLower(s)
		}
		return s
	}

	want := fold(target)
	limit := min(o.MaxDistance, max(1, len([]rune(want))/2))

	var matches []match
	for _, c := range candidates {
		if d := LevenshteinDistance(want, fold(c)); d <= limit {
			matches = append(matches, match{name: c, distance: d})
		}
	}

	slices.SortFunc(matches, func(a, b match) int {
		return cmp.Or(cmp.Compare(a.distance, b.distance), strings.Compare(a.name, b.name))
	})

	out := make([]string, 0, min(len(matches), o.MaxSuggestions))
	for _, m := range matches[:min(len(matches), o.MaxSuggestions)] {
		out = append(out, m.name)
	}
	return out
}

// sceneStem drops a .usd, .usda or .usdc extension
func sceneStem(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".usd", ".usda", ".usdc":
		return strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name
}

// LevenshteinDistance counts the single-rune insertions, deletions and
// substitutions that turn a into b.
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}

	// prev[j] is the distance between ra[:i-1] and rb[:j]
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			sub := prev[j-1]
			if ra[i-1] != rb[j-1] {
				sub++
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, sub)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
