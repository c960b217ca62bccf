package history

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// TokenLength is the number of characters in a generated wiki token.
const TokenLength = 8

// NewToken generates a fresh wiki token.
func NewToken() string {
	return uuid.NewString()[:TokenLength]
}

// ShareLink returns the URL that opens token on another device. Existing
// query parameters of baseURL are preserved; any previous token is replaced.
func ShareLink(baseURL string, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", eris.New("token is required")
	}

	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", eris.Wrapf(err, "parsing share base url: %s", baseURL)
	}

	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
