package identity

// DefaultScopes are requested at sign-in. offline_access yields the refresh
// token used for silent acquisition.
var DefaultScopes = []string{
	"openid",
	"profile",
	"offline_access",
	"User.Read",
	"Mail.Read",
}
