package access

import "fmt"

// Decision reasons
const (
	ReasonAdmin            = "admin"
	ReasonAuthor           = "author"
	ReasonOpen             = "open"
	ReasonAuthenticated    = "authenticated"
	ReasonPlanRank         = "plan_rank"
	ReasonCreatorPlan      = "creator_plan"
	ReasonUnauthenticated  = "unauthenticated"
	ReasonInsufficientPlan = "insufficient_plan"
	ReasonNotAuthor        = "not_author"
)

// Action identifies what a Decision was made for
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
)

// Decision is the outcome of a policy check
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Action       Action `json:"action"`
	Reason       string `json:"reason"`
	RequiredPlan *Plan  `json:"required_plan,omitempty"`
	CurrentPlan  Plan   `json:"current_plan"`
}

// Guidance returns user-facing text for a denial, or "" when allowed
func (d Decision) Guidance() string {
	if d.Allowed {
		return ""
	}

	switch d.Action {
	case ActionCreate:
		if d.Reason == ReasonUnauthenticated {
			return "Sign in with a BASIC plan or above to create articles."
		}
		return fmt.Sprintf("Creating articles requires the BASIC plan or above. Your current plan is %s.", d.CurrentPlan)
	case ActionEdit:
		if d.Reason == ReasonInsufficientPlan {
			return "Editing articles requires the BASIC plan or above. Upgrade your plan to continue editing."
		}
		return "Only the author or an administrator can change this article."
	}

	if d.RequiredPlan == nil || *d.RequiredPlan == PlanFree {
		return "Sign in to read this article."
	}
	if d.Reason == ReasonUnauthenticated {
		return fmt.Sprintf("This article requires the %s plan or above. Sign in and upgrade your plan to read it.", *d.RequiredPlan)
	}
	return fmt.Sprintf("This article requires the %s plan or above. Your current plan is %s. Upgrade your plan to read it.", *d.RequiredPlan, d.CurrentPlan)
}

func allow(action Action, v Viewer, reason string) Decision {
	return Decision{Allowed: true, Action: action, Reason: reason, CurrentPlan: v.EffectivePlan()}
}

func deny(action Action, v Viewer, reason string, required *Plan) Decision {
	return Decision{Action: action, Reason: reason, RequiredPlan: required, CurrentPlan: v.EffectivePlan()}
}

// CanView decides whether v may read an article written by authorID at level
func CanView(v Viewer, authorID string, level AccessLevel) Decision {
	if v.Authenticated && v.IsAdmin {
		return allow(ActionView, v, ReasonAdmin)
	}
	if v.Authenticated && v.UserID != "" && v.UserID == authorID {
		return allow(ActionView, v, ReasonAuthor)
	}
	if level == LevelOpen {
		return allow(ActionView, v, ReasonOpen)
	}

	required, ok := level.RequiredPlan()
	if !ok {
		// Unknown levels are never readable.
		return deny(ActionView, v, ReasonInsufficientPlan, nil)
	}
	if !v.Authenticated {
		return deny(ActionView, v, ReasonUnauthenticated, &required)
	}
	if level == LevelFree {
		return allow(ActionView, v, ReasonAuthenticated)
	}
	if v.EffectivePlan().Rank() >= required.Rank() {
		return allow(ActionView, v, ReasonPlanRank)
	}
	return deny(ActionView, v, ReasonInsufficientPlan, &required)
}

// CanCreate decides whether v may author articles at all. The level of
// the new article is not considered: an author may publish above their
// own plan.
func CanCreate(v Viewer) Decision {
	basic := PlanBasic
	if !v.Authenticated {
		return deny(ActionCreate, v, ReasonUnauthenticated, &basic)
	}
	if v.IsAdmin {
		return allow(ActionCreate, v, ReasonAdmin)
	}
	if v.EffectivePlan().Rank() >= PlanBasic.Rank() {
		return allow(ActionCreate, v, ReasonCreatorPlan)
	}
	return deny(ActionCreate, v, ReasonInsufficientPlan, &basic)
}

// EditPolicy controls whether authors keep edit rights after a downgrade
type EditPolicy int

const (
	// EditPolicyGrandfathered lets authors edit their articles on any plan
	EditPolicyGrandfathered EditPolicy = iota
	// EditPolicyRecheckPlan requires authors to still pass CanCreate
	EditPolicyRecheckPlan
)

func (p EditPolicy) String() string {
	if p == EditPolicyRecheckPlan {
		return "recheck_plan"
	}
	return "grandfathered"
}

// EditPolicyFromFlag maps the configuration switch onto an EditPolicy
func EditPolicyFromFlag(recheck bool) EditPolicy {
	if recheck {
		return EditPolicyRecheckPlan
	}
	return EditPolicyGrandfathered
}

// CanEdit decides whether v may update or delete an article by authorID
func CanEdit(v Viewer, authorID string, policy EditPolicy) Decision {
	if !v.Authenticated {
		return deny(ActionEdit, v, ReasonUnauthenticated, nil)
	}
	if v.IsAdmin {
		return allow(ActionEdit, v, ReasonAdmin)
	}
	if v.UserID == "" || v.UserID != authorID {
		return deny(ActionEdit, v, ReasonNotAuthor, nil)
	}
	if policy == EditPolicyRecheckPlan && !CanCreate(v).Allowed {
		basic := PlanBasic
		return deny(ActionEdit, v, ReasonInsufficientPlan, &basic)
	}
	return allow(ActionEdit, v, ReasonAuthor)
}
