package access

import (
	"fmt"
	"strings"
)

// Plan is a membership tier assigned to an account
type Plan string

const (
	PlanFree  Plan = "FREE"
	PlanBasic Plan = "BASIC"
	PlanPro   Plan = "PRO"
	PlanVIP   Plan = "VIP"
)

// PlanOrder lists plans from lowest to highest rank
var PlanOrder = []Plan{PlanFree, PlanBasic, PlanPro, PlanVIP}

// Rank returns the plan's position in PlanOrder. Unknown plans rank as FREE.
func (p Plan) Rank() int {
	switch p {
	case PlanBasic:
		return 1
	case PlanPro:
		return 2
	case PlanVIP:
		return 3
	default:
		return 0
	}
}

// Valid reports whether p is one of the four tiers
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPro, PlanVIP:
		return true
	}
	return false
}

// ParsePlan parses a plan name case-insensitively
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("invalid plan: %q", s)
	}
	return p, nil
}

// AccessLevel is the tier an article is published at
type AccessLevel string

const (
	LevelOpen  AccessLevel = "OPEN"
	LevelFree  AccessLevel = "FREE"
	LevelBasic AccessLevel = "BASIC"
	LevelPro   AccessLevel = "PRO"
	LevelVIP   AccessLevel = "VIP"
)

// AccessLevels lists every access level an author may choose
var AccessLevels = []AccessLevel{LevelOpen, LevelFree, LevelBasic, LevelPro, LevelVIP}

// Valid reports whether l is one of the five levels
func (l AccessLevel) Valid() bool {
	switch l {
	case LevelOpen, LevelFree, LevelBasic, LevelPro, LevelVIP:
		return true
	}
	return false
}

// RequiredPlan returns the lowest plan that satisfies l. OPEN has none.
func (l AccessLevel) RequiredPlan() (Plan, bool) {
	switch l {
	case LevelFree:
		return PlanFree, true
	case LevelBasic:
		return PlanBasic, true
	case LevelPro:
		return PlanPro, true
	case LevelVIP:
		return PlanVIP, true
	default:
		return "", false
	}
}

// RequiredRank returns the minimum plan rank, or -1 for OPEN
func (l AccessLevel) RequiredRank() int {
	p, ok := l.RequiredPlan()
	if !ok {
		return -1
	}
	return p.Rank()
}

// ParseAccessLevel parses an access level case-insensitively
func ParseAccessLevel(s string) (AccessLevel, error) {
	l := AccessLevel(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("invalid access level: %q", s)
	}
	return l, nil
}

// Viewer is the already-fetched state a decision is made over
type Viewer struct {
	UserID        string
	Authenticated bool
	IsAdmin       bool
	Plan          *Plan // nil when unauthenticated or unprovisioned
}

// Anonymous is the viewer with no session
var Anonymous = Viewer{}

// EffectivePlan returns the viewer's plan, treating absence as FREE
func (v Viewer) EffectivePlan() Plan {
	if v.Plan == nil || !v.Plan.Valid() {
		return PlanFree
	}
	return *v.Plan
}

// FromLookup builds a viewer from session and lookup results. A lookup
// error yields a non-admin viewer with no plan; the viewer keeps its
// authenticated status only when a session exists.
func FromLookup(userID string, isAdmin bool, plan *Plan, err error) Viewer {
	v := Viewer{UserID: userID, Authenticated: userID != ""}
	if err != nil || !v.Authenticated {
		return v
	}
	v.IsAdmin = isAdmin
	v.Plan = plan
	return v
}

// PlanPtr is a convenience for building viewers
func PlanPtr(p Plan) *Plan {
	return &p
}
