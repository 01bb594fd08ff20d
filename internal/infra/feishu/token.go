package feishu

import (
	"strings"
	"unicode"

	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

// Credentials identify a Feishu custom app
type Credentials struct {
	AppID     string
	AppSecret string
}

// ParseToken splits a bot token of the form "app_id:app_secret".
func ParseToken(token string) (Credentials, error) {
	if token == "" || strings.IndexFunc(token, unicode.IsSpace) >= 0 {
		return Credentials{}, errs.New(errs.CodeConfigTokenInvalid, "bot token is empty or contains illegal characters")
	}
	appID, secret, ok := strings.Cut(token, ":")
	if !ok || appID == "" || secret == "" {
		return Credentials{}, errs.New(errs.CodeConfigTokenInvalid, `bot token must have the form "app_id:app_secret"`)
	}
	return Credentials{AppID: appID, AppSecret: secret}, nil
}

// String hides the secret
func (c Credentials) String() string {
	return c.AppID + ":***"
}
