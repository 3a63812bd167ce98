// Package auth mints and verifies device registration tokens using
// HS256-signed JWTs with a shared coordinator secret.
package auth
