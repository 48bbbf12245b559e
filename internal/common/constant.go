// Package common contains shared constants and sentinel errors used across
// plotroom components.
package common

// AuthorizationHeaderName is the HTTP header and gRPC metadata key used to
// carry the access token.
const AuthorizationHeaderName = "authorization"

// BearerPrefix is the only accepted authorization scheme. Matching is
// case-sensitive: "bearer <token>" is rejected.
const BearerPrefix = "Bearer "
