// Package api provides the HTTP server for the quill membership blog.
//
// # Overview
//
// The server exposes two surfaces on one gorilla/mux router. The JSON API
// under /api performs reads and writes through the data-access services.
// The page routes return the view-models a front end renders for each
// screen: the article list, the detail view with its denial guidance, the
// editor, the profile page, the plans page and the admin console.
//
// # Architecture
//
// Every request passes through the session middleware, which resolves the
// cookie or Bearer token into a session.State. Page routes additionally
// pass through the route guard, which rewrites legacy paths and redirects
// anonymous or non-admin visitors before any handler runs:
//
//	request → request id → recovery → logging → session → router
//	                                                     ├─ /api/...       (RequireSession / RequireAdmin)
//	                                                     ├─ /health, /metrics, /debug/env
//	                                                     └─ pages          (Guard)
//
// Handlers depend on small interfaces (ArticleService, ProfileService,
// MembershipService, AuthService, ImageService) so they can be exercised
// with fakes.
//
// # Results
//
// The data-access services return result.Result values. writeResult maps
// them exhaustively:
//
//	ok        → 200 with the value
//	not_found → 404
//	denied    → 403 with guidance, or 401 when the viewer has no session
//	error     → 500 with a generic retryable message; validation
//	            failures become 400 with the offending field
//
// # Diagnostic Mode
//
// When the backend cannot be configured, NewDiagnosticHandler serves 503
// with the list of missing variables on every route, while /debug/env and
// /health/live keep answering.
package api
