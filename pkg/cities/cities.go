// Package cities holds the per-conversation watched-city list and its alias
// registry. A List is owned by exactly one conversation and is only mutated
// through Add/Remove so the invariants hold: the list is never empty and
// alias codes are pairwise disjoint (case-insensitive) across all cities.
package cities

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// City is one watched city. Rank records insertion order and is never
// renumbered on removal; display order is decided elsewhere from computed
// local times, with rank only as a fallback.
type City struct {
	Name       string   `json:"name"`
	TimezoneID string   `json:"timezone_id"`
	Aliases    []string `json:"aliases"`
	Rank       int      `json:"rank"`
}

// List is the ordered watched-city collection for one conversation.
type List struct {
	Cities []City `json:"cities"`
}

// DefaultList returns the built-in starter set used when a conversation has
// no stored list yet.
func DefaultList() *List {
	return &List{Cities: []City{
		{Name: "Paris", TimezoneID: "Europe/Paris", Aliases: []string{"p"}, Rank: 1},
		{Name: "Yerevan", TimezoneID: "Asia/Yerevan", Aliases: []string{"e"}, Rank: 2},
		{Name: "Buenos Aires", TimezoneID: "America/Argentina/Buenos_Aires", Aliases: []string{"b"}, Rank: 3},
		{Name: "Moscow", TimezoneID: "Europe/Moscow", Aliases: []string{"m"}, Rank: 4},
	}}
}

// FindByAlias returns the city owning the given alias code, matched
// case-insensitively and exactly.
func (l *List) FindByAlias(code string) (City, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, c := range l.Cities {
		for _, a := range c.Aliases {
			if strings.EqualFold(a, code) {
				return c, true
			}
		}
	}
	return City{}, false
}

// FindByName returns the city with the given display name, matched
// case-insensitively.
func (l *List) FindByName(name string) (City, bool) {
	name = strings.TrimSpace(name)
	for _, c := range l.Cities {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return City{}, false
}

// AllAliases returns every alias code in the list, lowercased, in list order.
func (l *List) AllAliases() []string {
	var out []string
	for _, c := range l.Cities {
		for _, a := range c.Aliases {
			out = append(out, strings.ToLower(a))
		}
	}
	return out
}

// Add appends a city with the next rank. Aliases are normalized to
// lowercase. Fails with ErrDuplicateCity if the name is already watched and
// with ErrAliasConflict if any alias code is already claimed; on failure the
// list is unchanged.
func (l *List) Add(city City) error {
	if _, ok := l.FindByName(city.Name); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCity, city.Name)
	}
	if len(city.Aliases) == 0 {
		return fmt.Errorf("city %s needs at least one alias code", city.Name)
	}
	normalized := make([]string, 0, len(city.Aliases))
	seen := make(map[string]bool, len(city.Aliases))
	for _, a := range city.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		if owner, ok := l.FindByAlias(a); ok {
			return fmt.Errorf("%w: %q belongs to %s", ErrAliasConflict, a, owner.Name)
		}
		seen[a] = true
		normalized = append(normalized, a)
	}
	if len(normalized) == 0 {
		return fmt.Errorf("city %s needs at least one alias code", city.Name)
	}
	city.Aliases = normalized
	city.Rank = l.nextRank()
	l.Cities = append(l.Cities, city)
	return nil
}

// Remove deletes every city whose name matches one of the given names
// (case-insensitive) in one batch. The whole batch fails with ErrLastCity if
// it would empty the list, leaving it unchanged. Names that match nothing
// are ignored; if no name matches, Remove fails with ErrCityNotFound.
func (l *List) Remove(names ...string) error {
	doomed := make(map[string]bool, len(names))
	for _, n := range names {
		doomed[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var kept []City
	removed := 0
	for _, c := range l.Cities {
		if doomed[strings.ToLower(c.Name)] {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	if removed == 0 {
		return ErrCityNotFound
	}
	if len(kept) == 0 {
		return ErrLastCity
	}
	l.Cities = kept
	return nil
}

// Version is a stable fingerprint of the alias set, used to key derived
// values such as the scanner's compiled pattern. It changes exactly when the
// alias set changes.
func (l *List) Version() string {
	aliases := l.AllAliases()
	sort.Strings(aliases)
	h := sha256.Sum256([]byte(strings.Join(aliases, "\x00")))
	return hex.EncodeToString(h[:8])
}

func (l *List) nextRank() int {
	max := 0
	for _, c := range l.Cities {
		if c.Rank > max {
			max = c.Rank
		}
	}
	return max + 1
}
