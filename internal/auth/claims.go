// Package auth issues and validates the bearer tokens the web tier sets as
// an HTTP-only cookie on register/login (§6 "200 with auth cookie").
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the authenticated web-tier account. UserID is the
// external user id that also drives SessionID(userID) and web-tier
// classification.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string `json:"uid"`
	PhoneNumber string `json:"phone"`
}
