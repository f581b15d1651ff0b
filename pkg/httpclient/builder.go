package httpclient

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURL joins base and path and sets the query parameters
func BuildURL(base string, path string, params url.Values) (string, error) {
	parsedURL, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	if len(params) > 0 {
		query := parsedURL.Query()
		for key, values := range params {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		parsedURL.RawQuery = query.Encode()
	}

	return parsedURL.String(), nil
}
