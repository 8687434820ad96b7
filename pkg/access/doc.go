// Package access is the advisory access-control policy for articles.
//
// Plans form the total order FREE < BASIC < PRO < VIP. Articles carry one
// of five access levels; OPEN sits outside the order and is readable by
// anyone, including anonymous viewers.
//
// The functions here are pure. They gate UI controls and produce denial
// guidance; the store's SQL predicates mirror them and are what actually
// enforce access:
//
//	d := access.CanView(viewer, article.UserID, article.AccessLevel)
//	if !d.Allowed {
//		httputil.WriteDenied(w, "access restricted", d.Guidance())
//	}
//
// Lookup failures must fail closed; use FromLookup to build a Viewer.
package access
