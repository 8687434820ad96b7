// Package auth registers accounts and manages session tokens.
//
// Passwords are hashed with bcrypt. A successful sign-in issues an HS256
// JWT carrying sub, jti, exp and email; every jti has a row in the sessions
// table so tokens can be revoked before they expire:
//
//	signed, err := svc.SignIn(ctx, email, password)
//	user, sess, err := svc.Authenticate(ctx, signed.Token)
//	err = svc.SignOut(ctx, signed.Token)
//
// Sign-in, sign-out and admin role or plan changes are published on a Bus.
// The session manager subscribes to drop cached lookups for the user.
//
// When QUILL_OIDC_ISSUER is set, OIDC runs the authorization code flow.
// The state parameter is bound to a signed, short-lived cookie, and users
// are provisioned by verified email on first sign-in.
package auth
