// Package validation holds the input checks shared by the HTTP
// front-end and the CLI: inbound questions, board and artifact URLs,
// and a few config-adjacent string checks that do not belong to any
// one pipeline stage.
package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxQuestionRunes caps how long an accepted question can be. Real
// questions against the boards run well under 100 characters; the
// headroom exists for pasted notice fragments, not for prompt stuffing.
// Counted in runes so Korean text is not penalized per byte.
const MaxQuestionRunes = 500

// Question validates an inbound question and returns its trimmed form.
func Question(raw string) (string, error) {
	q := strings.TrimSpace(raw)
	if q == "" {
		return "", fmt.Errorf("question must not be empty")
	}
	if utf8.RuneCountInString(q) > MaxQuestionRunes {
		return "", fmt.Errorf("question exceeds %d characters", MaxQuestionRunes)
	}
	return q, nil
}

// FetchableURL validates a URL the file fetcher can handle: http(s)
// links and data: URIs. Everything else is rejected before any network
// traffic happens.
func FetchableURL(raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return fmt.Errorf("url must not be empty")
	}
	if strings.HasPrefix(s, "data:") {
		return nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported url scheme %q (http, https, or data expected)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host: %s", s)
	}
	return nil
}

// BoardURL validates a configured board landing URL. Boards must be
// plain http(s) pages; a data: URI or a bare path is a config mistake.
func BoardURL(raw string) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "data:") {
		return fmt.Errorf("board url must be http(s), got a data URI")
	}
	return FetchableURL(s)
}

// CollectionName validates a vector collection name. The hosted index
// rejects names outside this alphabet with an opaque gRPC error, so
// catching it at startup gives a usable message instead.
func CollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("collection name must not be empty")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("collection name %q contains %q (letters, digits, - and _ allowed)", name, r)
		}
	}
	return nil
}
