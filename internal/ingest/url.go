package ingest

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// inlineParam is the portal's inline-display toggle. It changes how the
// browser renders a document, not which document is served, so it must be
// stripped before a URL is used as a ledger identity.
const inlineParam = "inline"

var invalidFileNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// CanonicalURL standardizes a download URL so repeated discoveries of the
// same file collapse onto one ledger key. It lowercases the scheme and host,
// removes default ports and fragments, drops the inline-display parameter,
// and sorts the remaining query parameters.
func CanonicalURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if strings.EqualFold(key, inlineParam) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// SafeFileName reduces a display label to a name safe for staging paths.
func SafeFileName(name string) string {
	name = strings.TrimSpace(name)
	name = invalidFileNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "file"
	}
	return name
}

// StagePath derives the staging location for a descriptor:
// <category-slug>/<legislature>/<display-name>. The layout keeps one
// directory per document family and term so partial re-runs are inspectable.
func StagePath(d FileDescriptor) string {
	slug := string(d.Type.Base())
	if slug == "" {
		slug = "uncategorized"
	}
	return path.Join(slug, strconv.Itoa(d.Legislature), SafeFileName(d.DisplayName))
}
