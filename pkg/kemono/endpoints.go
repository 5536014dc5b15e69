package kemono

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// BaseURL is the base URL of the platform
	BaseURL = "https://kemono.cr"

	// APIPath is the versioned API prefix
	APIPath = "/api/v1"

	// PageSize is the fixed number of posts per listing page
	PageSize = 50

	// DefaultUserAgent is sent when the configuration does not override it
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0"
)

// PostsURL builds the paginated post listing URL for a creator. The
// offset query parameter is omitted for the first page.
func PostsURL(base, service, userID string, offset int) string {
	u := fmt.Sprintf("%s%s/%s/user/%s/posts", base, APIPath, service, userID)
	if offset > 0 {
		u += fmt.Sprintf("?o=%d", offset)
	}
	return u
}

// PostURL builds the post detail URL
func PostURL(base, service, userID, postID string) string {
	return fmt.Sprintf("%s%s/%s/user/%s/post/%s", base, APIPath, service, userID, postID)
}

// ProfileURL builds the creator profile URL
func ProfileURL(base, service, userID string) string {
	return fmt.Sprintf("%s%s/%s/user/%s/profile", base, APIPath, service, userID)
}

// CreatorURL builds the public page URL for a creator
func CreatorURL(base, service, userID string) string {
	return fmt.Sprintf("%s/%s/user/%s", base, service, userID)
}

// ParseCreatorURL extracts (service, userID) from a public creator page
// URL of the form https://host/{service}/user/{id}.
func ParseCreatorURL(raw string) (string, string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid creator URL %q: %w", raw, err)
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 3 || parts[1] != "user" || parts[0] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid creator URL %q, expected https://host/service/user/ID", raw)
	}

	return parts[0], parts[2], nil
}
