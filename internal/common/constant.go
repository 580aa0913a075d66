// Package common contains shared constants and sentinel errors used across
// credkeeper components.
package common

// RefreshTokenCookieName is the cookie that carries the refresh token
// between the browser and the /auth endpoints.
const RefreshTokenCookieName = "refresh_token"

// AuthorizationHeaderName carries the access token as "Bearer <token>".
const AuthorizationHeaderName = "Authorization"

// MinPasswordHashCost is the lowest bcrypt work factor the server accepts.
const MinPasswordHashCost = 10
