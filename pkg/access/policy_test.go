package access

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func member(id string, p Plan) Viewer {
	return Viewer{UserID: id, Authenticated: true, Plan: PlanPtr(p)}
}

func TestCanView_PlanRankGrid(t *testing.T) {
	levels := []AccessLevel{LevelFree, LevelBasic, LevelPro, LevelVIP}
	for _, plan := range PlanOrder {
		for _, level := range levels {
			t.Run(fmt.Sprintf("%s reads %s", plan, level), func(t *testing.T) {
				d := CanView(member("reader", plan), "author", level)
				assert.Equal(t, plan.Rank() >= level.RequiredRank(), d.Allowed)
			})
		}
	}
}

func TestCanView_Open(t *testing.T) {
	d := CanView(Anonymous, "author", LevelOpen)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonOpen, d.Reason)
}

func TestCanView_FreeRequiresSession(t *testing.T) {
	d := CanView(Anonymous, "author", LevelFree)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnauthenticated, d.Reason)
	assert.Equal(t, "Sign in to read this article.", d.Guidance())

	for _, plan := range PlanOrder {
		assert.True(t, CanView(member("reader", plan), "author", LevelFree).Allowed, plan)
	}

	// A session without any plan assignment still reads FREE articles.
	assert.True(t, CanView(Viewer{UserID: "reader", Authenticated: true}, "author", LevelFree).Allowed)
}

func TestCanView_AnonymousDeniedPaidLevels(t *testing.T) {
	for _, level := range []AccessLevel{LevelBasic, LevelPro, LevelVIP} {
		d := CanView(Anonymous, "author", level)
		assert.False(t, d.Allowed, level)
		assert.Contains(t, d.Guidance(), "Sign in and upgrade")
	}
}

func TestCanView_AdminSeesEverything(t *testing.T) {
	admin := Viewer{UserID: "admin", Authenticated: true, IsAdmin: true}
	for _, level := range AccessLevels {
		d := CanView(admin, "someone-else", level)
		assert.True(t, d.Allowed, level)
		assert.Equal(t, ReasonAdmin, d.Reason)
		assert.True(t, CanEdit(admin, "someone-else", EditPolicyRecheckPlan).Allowed)
	}
}

func TestCanView_AuthorSeesOwnRegardlessOfPlan(t *testing.T) {
	author := member("author", PlanFree)
	for _, level := range AccessLevels {
		d := CanView(author, "author", level)
		assert.True(t, d.Allowed, level)
	}
}

func TestCanView_BasicDeniedProWithUpgradeGuidance(t *testing.T) {
	d := CanView(member("reader", PlanBasic), "author", LevelPro)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonInsufficientPlan, d.Reason)
	assert.Equal(t, PlanPro, *d.RequiredPlan)
	assert.Equal(t, PlanBasic, d.CurrentPlan)
	assert.Equal(t,
		"This article requires the PRO plan or above. Your current plan is BASIC. Upgrade your plan to read it.",
		d.Guidance())
}

func TestCanView_UnknownLevelDenied(t *testing.T) {
	assert.False(t, CanView(member("reader", PlanVIP), "author", AccessLevel("SECRET")).Allowed)
}

func TestCanCreate(t *testing.T) {
	tests := []struct {
		name    string
		viewer  Viewer
		allowed bool
	}{
		{"anonymous", Anonymous, false},
		{"free", member("u", PlanFree), false},
		{"no plan", Viewer{UserID: "u", Authenticated: true}, false},
		{"basic", member("u", PlanBasic), true},
		{"pro", member("u", PlanPro), true},
		{"vip", member("u", PlanVIP), true},
		{"admin on free", Viewer{UserID: "u", Authenticated: true, IsAdmin: true, Plan: PlanPtr(PlanFree)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanCreate(tt.viewer).Allowed)
		})
	}
}

func TestCanCreate_FreeDeniedMentionsBasic(t *testing.T) {
	d := CanCreate(member("u", PlanFree))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Guidance(), "BASIC plan or above")
}

// Creation does not look at the level being published: a BASIC author
// may publish a VIP article. This is intended behaviour.
func TestCanCreate_LevelIndependentOfAuthorPlan(t *testing.T) {
	author := member("author", PlanBasic)
	assert.True(t, CanCreate(author).Allowed)
	assert.True(t, CanView(author, "author", LevelVIP).Allowed)
	assert.False(t, CanView(member("reader", PlanBasic), "author", LevelVIP).Allowed)
}

func TestCanEdit(t *testing.T) {
	downgraded := member("author", PlanFree)

	tests := []struct {
		name    string
		viewer  Viewer
		policy  EditPolicy
		allowed bool
		reason  string
	}{
		{"anonymous", Anonymous, EditPolicyGrandfathered, false, ReasonUnauthenticated},
		{"other member", member("other", PlanVIP), EditPolicyGrandfathered, false, ReasonNotAuthor},
		{"author", member("author", PlanBasic), EditPolicyGrandfathered, true, ReasonAuthor},
		{"downgraded author grandfathered", downgraded, EditPolicyGrandfathered, true, ReasonAuthor},
		{"downgraded author rechecked", downgraded, EditPolicyRecheckPlan, false, ReasonInsufficientPlan},
		{"admin", Viewer{UserID: "admin", Authenticated: true, IsAdmin: true}, EditPolicyRecheckPlan, true, ReasonAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanEdit(tt.viewer, "author", tt.policy)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			if !d.Allowed {
				assert.NotEmpty(t, d.Guidance())
			}
		})
	}
}

func TestFromLookup_FailsClosed(t *testing.T) {
	v := FromLookup("u1", true, PlanPtr(PlanVIP), errors.New("backend unavailable"))

	assert.True(t, v.Authenticated)
	assert.False(t, v.IsAdmin)
	assert.Nil(t, v.Plan)
	assert.Equal(t, PlanFree, v.EffectivePlan())
	assert.False(t, CanView(v, "author", LevelBasic).Allowed)
	assert.False(t, CanCreate(v).Allowed)
}

func TestFromLookup_NoSession(t *testing.T) {
	v := FromLookup("", true, PlanPtr(PlanVIP), nil)
	assert.False(t, v.Authenticated)
	assert.False(t, v.IsAdmin)
	assert.False(t, CanView(v, "author", LevelFree).Allowed)
}

func TestParse(t *testing.T) {
	l, err := ParseAccessLevel(" pro ")
	assert.NoError(t, err)
	assert.Equal(t, LevelPro, l)

	_, err = ParseAccessLevel("PREMIUM")
	assert.Error(t, err)

	p, err := ParsePlan("vip")
	assert.NoError(t, err)
	assert.Equal(t, PlanVIP, p)

	_, err = ParsePlan("OPEN")
	assert.Error(t, err)
}

func TestRanks(t *testing.T) {
	for i, p := range PlanOrder {
		assert.Equal(t, i, p.Rank())
	}
	assert.Equal(t, -1, LevelOpen.RequiredRank())
	assert.Equal(t, 3, LevelVIP.RequiredRank())
	assert.Equal(t, EditPolicyRecheckPlan, EditPolicyFromFlag(true))
	assert.Equal(t, "grandfathered", EditPolicyFromFlag(false).String())
}
