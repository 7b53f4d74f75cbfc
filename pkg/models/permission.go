package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level is a permission level on a secret.
type Level string

const (
	LevelView   Level = "view"
	LevelChange Level = "change"
)

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelView, LevelChange:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown permission level %q", s)
}

// LevelSet is the set of levels a principal holds on one secret.
type LevelSet uint8

const (
	viewBit LevelSet = 1 << iota
	changeBit
)

// AllLevels is what a superuser implicitly holds.
const AllLevels = viewBit | changeBit

func bitFor(l Level) LevelSet {
	switch l {
	case LevelView:
		return viewBit
	case LevelChange:
		return changeBit
	}
	return 0
}

// LevelsOf builds a set from individual levels.
func LevelsOf(levels ...Level) LevelSet {
	var s LevelSet
	for _, l := range levels {
		s |= bitFor(l)
	}
	return s
}

// RequiredFor returns the exact set a principal must hold to be at level l.
// change always carries view with it.
func RequiredFor(l Level) LevelSet {
	if l == LevelChange {
		return AllLevels
	}
	return bitFor(l)
}

// Has reports whether l is stored in the set.
func (s LevelSet) Has(l Level) bool {
	b := bitFor(l)
	return b != 0 && s&b == b
}

// Allows reports whether the set permits acting at level l.
func (s LevelSet) Allows(l Level) bool {
	if l == LevelView {
		return s != 0
	}
	return s.Has(l)
}

func (s LevelSet) Add(l Level) LevelSet    { return s | bitFor(l) }
func (s LevelSet) Remove(l Level) LevelSet { return s &^ bitFor(l) }

// Union merges two sets.
func (s LevelSet) Union(o LevelSet) LevelSet { return s | o }

// Minus returns the members of s missing from o.
func (s LevelSet) Minus(o LevelSet) LevelSet { return s &^ o }

// Intersect returns the members present in both sets.
func (s LevelSet) Intersect(o LevelSet) LevelSet { return s & o }

func (s LevelSet) Empty() bool { return s == 0 }

// Levels lists the members with view before change.
func (s LevelSet) Levels() []Level {
	out := make([]Level, 0, 2)
	if s.Has(LevelView) {
		out = append(out, LevelView)
	}
	if s.Has(LevelChange) {
		out = append(out, LevelChange)
	}
	return out
}

// Display returns the single level used when listing access: the superset.
func (s LevelSet) Display() Level {
	switch {
	case s.Has(LevelChange):
		return LevelChange
	case s.Has(LevelView):
		return LevelView
	}
	return ""
}

func (s LevelSet) String() string {
	levels := s.Levels()
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = string(l)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (s LevelSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Levels())
}

// Grant is one stored permission row.
type Grant struct {
	SecretID  string    `json:"secret_id"`
	Principal Principal `json:"principal"`
	Level     Level     `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// Access describes one principal's access to a secret for display.
type Access struct {
	Principal Principal `json:"principal"`
	Name      string    `json:"name"`
	Level     Level     `json:"level"`
}
