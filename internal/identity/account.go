package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims are the ID token claims the server reads.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// HomeAccountID returns "<oid>.<tid>".
func (c *IDTokenClaims) HomeAccountID() string {
	return c.ObjectID + "." + c.TenantID
}

// ParseIDToken decodes the claims of an ID token received directly from the
// token endpoint. The signature is not checked: the token came over the TLS
// connection to the issuer in exchange for our client secret.
func ParseIDToken(raw string) (*IDTokenClaims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: token response has no id_token", ErrAuthentication)
	}

	var claims IDTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: malformed id_token: %v", ErrAuthentication, err)
	}

	if claims.ObjectID == "" || claims.TenantID == "" {
		return nil, fmt.Errorf("%w: id_token lacks oid or tid claim", ErrAuthentication)
	}

	return &claims, nil
}
