// Package audit records security-relevant events: registrations, logins,
// admin role and plan changes, plan expiry and article mutations.
//
//	event := audit.NewEvent(ctx, audit.EventTypeAdminRoleChange, audit.EventStatusSuccess)
//	event.ActorID = admin.UserID
//	event.TargetID = userID
//	event.Metadata["is_admin"] = true
//	_ = logger.Log(ctx, event)
//
// Events are written to the audit_logs table by DBLogger. Callers on a
// request path usually log through async.SafeGo so a slow insert never
// delays the response.
package audit
