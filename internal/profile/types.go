package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category is one of the three fixed interest groupings of a profile.
type Category string

const (
	Games     Category = "games"
	Artists   Category = "artists"
	Interests Category = "interests"
)

// AllCategories lists the categories in display order.
var AllCategories = []Category{Games, Artists, Interests}

var (
	// ErrInvalidCategory is returned when a category name is not one of AllCategories.
	ErrInvalidCategory = errors.New("category must be one of: games, artists, interests")
	// ErrItemNotFound is returned by Remove when the exact item is absent.
	ErrItemNotFound = errors.New("item not found")
)

// ParseCategory maps user input to a Category. Matching ignores case and
// surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case Games:
		return Games, nil
	case Artists:
		return Artists, nil
	case Interests:
		return Interests, nil
	}
	return "", fmt.Errorf("%w (got %q)", ErrInvalidCategory, s)
}

// Title returns the capitalized category name ("Games").
func (c Category) Title() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// Categories holds the ordered item lists of a profile. The same shape is
// used for candidate interests proposed by the extractor.
type Categories struct {
	Games     []string `json:"games"`
	Artists   []string `json:"artists"`
	Interests []string `json:"interests"`
}

// List returns the items of c. Unknown categories yield nil.
func (cs Categories) List(c Category) []string {
	switch c {
	case Games:
		return cs.Games
	case Artists:
		return cs.Artists
	case Interests:
		return cs.Interests
	}
	return nil
}

func (cs *Categories) ref(c Category) *[]string {
	switch c {
	case Games:
		return &cs.Games
	case Artists:
		return &cs.Artists
	case Interests:
		return &cs.Interests
	}
	return nil
}

// Len returns the total number of items across all categories.
func (cs Categories) Len() int {
	return len(cs.Games) + len(cs.Artists) + len(cs.Interests)
}

// Empty reports whether no category holds any item.
func (cs Categories) Empty() bool { return cs.Len() == 0 }

// Add appends item to c unless an equal item (ignoring case) is already
// present. Blank items are ignored.
func (cs *Categories) Add(c Category, item string) bool {
	item = strings.TrimSpace(item)
	list := cs.ref(c)
	if list == nil || item == "" {
		return false
	}
	if containsFold(*list, item) {
		return false
	}
	*list = append(*list, item)
	return true
}

func (cs Categories) clone() Categories {
	return Categories{
		Games:     cloneStrings(cs.Games),
		Artists:   cloneStrings(cs.Artists),
		Interests: cloneStrings(cs.Interests),
	}
}

// Profile is the interest profile of one community member.
type Profile struct {
	Identity        string     `json:"identity"`
	DisplayName     string     `json:"display_name"`
	Categories      Categories `json:"categories"`
	ScanningEnabled bool       `json:"scanning_enabled"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
}

// New returns an empty profile with scanning enabled.
func New(identity, displayName string) Profile {
	return Profile{
		Identity:        identity,
		DisplayName:     displayName,
		ScanningEnabled: true,
	}
}

// Add appends item to category c unless an equal item (ignoring case) is
// already present. It reports whether the profile changed.
func (p *Profile) Add(c Category, item string) bool {
	return p.Categories.Add(c, item)
}

// Remove deletes the item from category c by exact match.
func (p *Profile) Remove(c Category, item string) error {
	list := p.Categories.ref(c)
	if list == nil {
		return fmt.Errorf("%w (got %q)", ErrInvalidCategory, c)
	}
	for i, existing := range *list {
		if existing == item {
			*list = append((*list)[:i:i], (*list)[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q in %s", ErrItemNotFound, item, c)
}

// Merge dedup-inserts every candidate and reports whether anything changed.
func (p *Profile) Merge(candidates Categories) bool {
	changed := false
	for _, c := range AllCategories {
		for _, item := range candidates.List(c) {
			if p.Add(c, item) {
				changed = true
			}
		}
	}
	return changed
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	cp := p
	cp.Categories = p.Categories.clone()
	return cp
}

// Name returns the display name, falling back to the identity.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Identity
}

func containsFold(list []string, item string) bool {
	for _, existing := range list {
		if strings.EqualFold(existing, item) {
			return true
		}
	}
	return false
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
