package router

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	uriPrefixes = []string{"vmess://", "vless://", "trojan://", "ss://"}
	emailLike   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// LooksLikeIdentifier reports whether text could name a provisioned account:
// a proxy share URI (lower-case scheme), an email-like account name, or a UUID.
func LooksLikeIdentifier(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, p := range uriPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	if emailLike.MatchString(text) {
		return true
	}
	if len(text) == 36 {
		if _, err := uuid.Parse(text); err == nil {
			return true
		}
	}
	return false
}
