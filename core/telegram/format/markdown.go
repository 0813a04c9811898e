// Package format escapes user supplied text for Telegram parse modes.
package format

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MarkdownV1 denotes Telegram markdown version 1.
	MarkdownV1 = 1
	// MarkdownV2 denotes Telegram markdown version 2.
	MarkdownV2 = 2
)

const mdV2Specials = "_*[]()~`>#+-=|{}.!"

var (
	mdV1Re = regexp.MustCompile("([_*`\\[])")
	mdV2Re = regexp.MustCompile("([" + classOf(mdV2Specials+`\\`) + "])")
)

// classOf escapes every character so s can sit inside a regexp class.
func classOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		b.WriteByte('\\')
		b.WriteRune(r)
	}
	return b.String()
}

// EscapeMarkdown escapes special characters for MarkdownV1 or V2.
func EscapeMarkdown(text string, version int) (string, error) {
	switch version {
	case MarkdownV1:
		return mdV1Re.ReplaceAllString(text, `\$1`), nil
	case MarkdownV2:
		return mdV2Re.ReplaceAllString(text, `\$1`), nil
	}
	return "", fmt.Errorf("unsupported markdown version: %d", version)
}

// MD escapes text for the legacy Markdown mode used by bot messages.
func MD(text string) string {
	out, _ := EscapeMarkdown(text, MarkdownV1)
	return out
}

// DisplayName joins the name parts, falling back to @username or the id.
func DisplayName(first, last, username string, id int64) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	switch {
	case name != "":
		return name
	case username != "":
		return "@" + username
	}
	return fmt.Sprintf("%d", id)
}
