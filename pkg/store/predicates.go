package store

import "fmt"

// rankExpr maps a tier name column onto FREE=0 .. VIP=3
func rankExpr(col string) string {
	return fmt.Sprintf("(CASE %s WHEN 'BASIC' THEN 1 WHEN 'PRO' THEN 2 WHEN 'VIP' THEN 3 ELSE 0 END)", col)
}

// isAdminPredicate is true when the user bound to $uid holds the admin flag
func isAdminPredicate(uid int) string {
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = $%d AND ur.is_admin = TRUE)", uid)
}

// planAtLeastPredicate is true when $uid's current plan rank is >= the
// rank expression. Assignments past their end date count as no plan.
func planAtLeastPredicate(uid int, requiredRank string) string {
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM user_plans up JOIN plans p ON p.id = up.plan_id WHERE up.user_id = $%d"+
			" AND (up.end_date IS NULL OR up.end_date > CURRENT_TIMESTAMP) AND %s >= %s)",
		uid, rankExpr("p.name"), requiredRank)
}

// viewPredicate mirrors access.CanView for the article aliased as a.
// $uid is the viewer's id, or NULL for anonymous viewers.
func viewPredicate(uid int) string {
	return fmt.Sprintf(`(
		%s
		OR a.user_id = $%d
		OR a.access_level = 'OPEN'
		OR ($%d IS NOT NULL AND a.access_level = 'FREE')
		OR (a.access_level IN ('BASIC', 'PRO', 'VIP') AND %s)
	)`,
		isAdminPredicate(uid),
		uid,
		uid,
		planAtLeastPredicate(uid, rankExpr("a.access_level")),
	)
}

// createPredicate mirrors access.CanCreate for the user bound to $uid
func createPredicate(uid int) string {
	return fmt.Sprintf("(%s OR %s)", isAdminPredicate(uid), planAtLeastPredicate(uid, "1"))
}

// editPredicate mirrors access.CanEdit for the article aliased as a.
// With recheckPlan the author must also still satisfy createPredicate.
func editPredicate(uid int, recheckPlan bool) string {
	author := fmt.Sprintf("a.user_id = $%d", uid)
	if recheckPlan {
		author = fmt.Sprintf("(%s AND %s)", author, planAtLeastPredicate(uid, "1"))
	}
	return fmt.Sprintf("(%s OR %s)", isAdminPredicate(uid), author)
}
