package utils

import (
	"regexp"
	"strings"
)

var (
	invalidFilenameChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	whitespaceRun          = regexp.MustCompile(`\s+`)
	consecutiveUnderscores = regexp.MustCompile(`_+`)
)

const maxFilenameLength = 80

// SanitizeFilename turns free text (a search term, a category URL, a platform key)
// into a lowercase token safe to use as a file or directory name.
func SanitizeFilename(name string) string {
	sanitized := strings.ToLower(strings.TrimSpace(name))
	sanitized = strings.TrimPrefix(strings.TrimPrefix(sanitized, "https://"), "http://")
	sanitized = invalidFilenameChars.ReplaceAllString(sanitized, "_")
	sanitized = whitespaceRun.ReplaceAllString(sanitized, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_.")

	if len(sanitized) > maxFilenameLength {
		sanitized = strings.Trim(sanitized[:maxFilenameLength], "_.")
	}
	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}
