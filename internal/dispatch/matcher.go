package dispatch

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ernie/warden/internal/domain"
)

// MatchStrategy selects how a name argument resolves to an online player
type MatchStrategy string

const (
	// ExactThenUnique accepts an exact name, else a single substring match
	ExactThenUnique MatchStrategy = "exact-then-unique"
	// ExactOnly accepts only an exact (case-insensitive) name
	ExactOnly MatchStrategy = "exact-only"
)

// PlayerMatcher resolves a name or slot argument against a player snapshot
type PlayerMatcher struct {
	Strategy MatchStrategy
}

// Match finds the player referred to by query. A numeric query naming an
// occupied slot wins outright; names compare case-insensitively with color
// codes stripped. Ambiguity is always an error.
func (m PlayerMatcher) Match(players []domain.Player, query string) (domain.Player, error) {
	q := strings.ToLower(domain.StripColors(query))
	if q == "" {
		return domain.Player{}, domain.Errorf(domain.CodeUnresolvedPlaceholder, "empty player name")
	}

	sorted := append([]domain.Player(nil), players...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Slot < sorted[j].Slot })

	if slot, err := strconv.Atoi(q); err == nil {
		for _, p := range sorted {
			if p.Slot == slot {
				return p, nil
			}
		}
	}

	var exact []domain.Player
	for _, p := range sorted {
		if strings.ToLower(strippedName(p)) == q {
			exact = append(exact, p)
		}
	}
	switch len(exact) {
	case 1:
		return exact[0], nil
	case 0:
	default:
		return domain.Player{}, ambiguous(query, exact)
	}

	if m.Strategy == ExactOnly {
		return domain.Player{}, domain.Errorf(domain.CodeUnresolvedPlaceholder, "no player named %q", query)
	}

	var partial []domain.Player
	for _, p := range sorted {
		if strings.Contains(strings.ToLower(strippedName(p)), q) {
			partial = append(partial, p)
		}
	}
	switch len(partial) {
	case 1:
		return partial[0], nil
	case 0:
		return domain.Player{}, domain.Errorf(domain.CodeUnresolvedPlaceholder, "no player matches %q", query)
	default:
		return domain.Player{}, ambiguous(query, partial)
	}
}

func strippedName(p domain.Player) string {
	if p.StrippedName != "" {
		return p.StrippedName
	}
	return domain.StripColors(p.Name)
}

func ambiguous(query string, matches []domain.Player) error {
	names := make([]string, 0, len(matches))
	for _, p := range matches {
		names = append(names, strippedName(p))
	}
	return domain.Errorf(domain.CodeUnresolvedPlaceholder, "%q matches %d players: %s", query, len(matches), strings.Join(names, ", "))
}
