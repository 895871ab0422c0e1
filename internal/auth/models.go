package auth

import "github.com/golang-jwt/jwt/v5"

// DevAuthRequest selects the identity of a dev token. Both fields are optional.
type DevAuthRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// DevAuthResponse carries a signed dev token and the identity it encodes.
type DevAuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
}

// Claims are the access token claims: sub is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
