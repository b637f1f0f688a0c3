package identity

import (
	"errors"
	"fmt"
)

// ErrAuthentication is returned when a code exchange or token refresh fails.
var ErrAuthentication = errors.New("authentication failed")

// ErrNoAccount is returned when no token is stored for an account. It is an
// authentication error: errors.Is(ErrNoAccount, ErrAuthentication) is true.
var ErrNoAccount = fmt.Errorf("%w: no token for account", ErrAuthentication)
