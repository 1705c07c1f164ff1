// Package matching scores interest overlap between profiles and selects the
// best matches for a subject.
package matching

import (
	"context"
	"sort"
	"strings"

	"github.com/kalambet/emobot/internal/profile"
)

const (
	// DefaultThreshold is the minimum score for a pair to count as a match.
	DefaultThreshold = 0.3
	// MaxMatches caps the number of results returned by Rank.
	MaxMatches = 5
)

// Match pairs a candidate profile with its score against the subject.
type Match struct {
	Profile profile.Profile `json:"profile"`
	Score   float64         `json:"score"`
}

// MembershipChecker reports whether identity is currently a reachable member
// of the community.
type MembershipChecker interface {
	IsMember(ctx context.Context, identity string) (bool, error)
}

// Score returns the overlap coefficient of a and b:
//
//	min(1, common / ((sizeA + sizeB) / 2))
//
// where common counts case-insensitive intersections per category. Profiles
// without items score 0 against everyone.
func Score(a, b profile.Profile) float64 {
	sizeA, sizeB := a.Categories.Len(), b.Categories.Len()
	if sizeA == 0 || sizeB == 0 {
		return 0
	}

	common := 0
	for _, c := range profile.AllCategories {
		common += intersectionSize(a.Categories.List(c), b.Categories.List(c))
	}

	score := float64(common) / (float64(sizeA+sizeB) / 2)
	if score > 1 {
		return 1
	}
	return score
}

// Overlap returns the items a and b share per category, in a's order and casing.
func Overlap(a, b profile.Profile) profile.Categories {
	var out profile.Categories
	for _, c := range profile.AllCategories {
		set := foldSet(b.Categories.List(c))
		for _, item := range a.Categories.List(c) {
			if _, ok := set[fold(item)]; ok {
				out.Add(c, item)
			}
		}
	}
	return out
}

// Rank scores every candidate against subject, keeps those at or above
// threshold that are community members, and returns at most MaxMatches
// sorted by descending score. Ties keep the candidates' input order.
//
// Candidates whose membership cannot be determined are skipped. Rank only
// fails when ctx is done.
func Rank(ctx context.Context, subject profile.Profile, candidates []profile.Profile, threshold float64, members MembershipChecker) ([]Match, error) {
	scored := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if c.Identity == subject.Identity {
			continue
		}
		if s := Score(subject, c); s >= threshold {
			scored = append(scored, Match{Profile: c, Score: s})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	var out []Match
	for _, m := range scored {
		if len(out) == MaxMatches {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if members != nil {
			ok, err := members.IsMember(ctx, m.Profile.Identity)
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func intersectionSize(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := foldSet(b)
	seen := make(map[string]struct{}, len(a))
	n := 0
	for _, item := range a {
		k := fold(item)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := set[k]; ok {
			n++
		}
	}
	return n
}

func foldSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[fold(item)] = struct{}{}
	}
	return set
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
