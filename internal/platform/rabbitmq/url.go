package rabbitmq

import (
	"net/url"
	"strings"
)

// BuildURL combines the broker address with separately configured
// credentials and vhost. Credentials already embedded in the address win.
func BuildURL(raw, user, pass, vhost string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	if u.User == nil && user != "" {
		u.User = url.UserPassword(user, pass)
	}
	if vhost != "" && vhost != "/" && (u.Path == "" || u.Path == "/") {
		u.Path = "/" + strings.TrimPrefix(vhost, "/")
	}
	return u.String()
}
