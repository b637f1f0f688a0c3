package identity

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDToken(t *testing.T) {
	claims, err := ParseIDToken(signedIDToken(t, "00000000-0000-0000-0000-000000000001", "9188040d-6c67-4c5b-b112-36a304b66dad"))
	require.NoError(t, err)

	assert.Equal(t, "00000000-0000-0000-0000-000000000001.9188040d-6c67-4c5b-b112-36a304b66dad", claims.HomeAccountID())
	assert.Equal(t, "adele@contoso.com", claims.PreferredUsername)
}

func TestParseIDToken_Rejects(t *testing.T) {
	noTenant, err := jwt.NewWithClaims(jwt.SigningMethodHS256, IDTokenClaims{ObjectID: "oid"}).
		SignedString([]byte("k"))
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"empty":     "",
		"garbage":   "garbage",
		"no tenant": noTenant,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseIDToken(raw)
			assert.ErrorIs(t, err, ErrAuthentication)
		})
	}
}
