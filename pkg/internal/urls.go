package internal

import (
	"net/url"
	"strings"
)

// redacted replaces credentials in log output
const redacted = "***"

// AuthenticatedURL embeds the token as the user info of the repository url.
// Without a token the url is returned unmodified.
func AuthenticatedURL(repoURL, token string) (string, error) {
	if token == "" {
		return repoURL, nil
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return "", err
	}
	u.User = url.User(token)

	return u.String(), nil
}

// Redact removes every occurrence of secret from s
func Redact(s, secret string) string {
	if secret == "" {
		return s
	}

	s = strings.ReplaceAll(s, secret, redacted)

	// url encoded form, as embedded by AuthenticatedURL
	if escaped := url.PathEscape(secret); escaped != secret {
		s = strings.ReplaceAll(s, escaped, redacted)
	}

	return s
}
