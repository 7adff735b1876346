// Package scanner extracts an optional (hours, minutes, alias) triple from
// free-form chat text. It is deliberately silent on non-matching input: the
// bot must not respond to ordinary conversation that happens to contain
// numbers.
package scanner

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maypok86/otter/v2"

	"github.com/codeGROOVE-dev/tzChat/pkg/cities"
)

// Match is a successfully extracted time anchored to a watched city.
type Match struct {
	City    cities.City
	Hours   int
	Minutes int
}

// Scanner matches "HH[:MM] <alias>" against the alias set of a city list.
// Compiled patterns are cached per alias-set version so the regexp is
// rebuilt only when the alias set actually changes, not once per message.
type Scanner struct {
	patterns *otter.Cache[string, *regexp.Regexp]
	logger   *slog.Logger
}

// New creates a Scanner. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		patterns: otter.Must(&otter.Options[string, *regexp.Regexp]{
			MaximumSize: 256,
		}),
		logger: logger,
	}
}

// Scan finds the first occurrence of 1-2 digits (hours), optionally ':' or
// '.' plus exactly two digits (minutes), optional whitespace, and one alias
// code from the list. The rune immediately after the alias must not be a
// letter or digit, so a code "m" never matches inside "msk2"; candidates
// failing that boundary are skipped and the scan continues. Hours over 23 or
// minutes over 59 turn the whole scan into a non-match.
func (s *Scanner) Scan(text string, list *cities.List) (Match, bool) {
	re := s.pattern(list)
	if re == nil {
		return Match{}, false
	}
	for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
		// idx pairs: 0 full match, 1 hours, 2 minutes (optional), 3 alias.
		if r, size := utf8.DecodeRuneInString(text[idx[1]:]); size > 0 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		hours, err := strconv.Atoi(text[idx[2]:idx[3]])
		if err != nil {
			continue
		}
		minutes := 0
		if idx[4] >= 0 {
			if minutes, err = strconv.Atoi(text[idx[4]:idx[5]]); err != nil {
				continue
			}
		}
		if hours > 23 || minutes > 59 {
			return Match{}, false
		}
		city, ok := list.FindByAlias(text[idx[6]:idx[7]])
		if !ok {
			return Match{}, false
		}
		return Match{City: city, Hours: hours, Minutes: minutes}, true
	}
	return Match{}, false
}

// pattern returns the compiled pattern for the list's current alias set,
// building and caching it on first use.
func (s *Scanner) pattern(list *cities.List) *regexp.Regexp {
	key := list.Version()
	if re, ok := s.patterns.GetIfPresent(key); ok {
		return re
	}

	aliases := list.AllAliases()
	if len(aliases) == 0 {
		return nil
	}
	// Longest first so a code that is a prefix of another ("l" vs "lon")
	// cannot pre-empt it. Codes are literal tokens, never sub-patterns.
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i]) != len(aliases[j]) {
			return len(aliases[i]) > len(aliases[j])
		}
		return aliases[i] < aliases[j]
	})
	quoted := make([]string, len(aliases))
	for i, a := range aliases {
		quoted[i] = regexp.QuoteMeta(a)
	}

	expr := `(?i)(\d{1,2})(?:[:.](\d{2}))?\s*(` + strings.Join(quoted, "|") + `)`
	re, err := regexp.Compile(expr)
	if err != nil {
		// Unreachable with quoted literals, but never let a bad alias set
		// take the message loop down.
		s.logger.Error("alias pattern failed to compile", "error", err, "version", key)
		return nil
	}

	s.patterns.Set(key, re)
	s.logger.Debug("compiled alias pattern", "version", key, "aliases", len(aliases))
	return re
}
