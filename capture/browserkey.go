package capture

import (
	"regexp"
	"strings"
)

// The capture API reports OS names with a trailing "-E<digits>" build suffix
// in one of its two endpoints but not the other (vendor quirk). Strip it so
// both sides derive the same key.
var (
	osSuffixRe = regexp.MustCompile(`-E\d+$`)
	keyCleanRe = regexp.MustCompile(`[^\w.]`)
)

// BrowserKey derives the canonical browser identifier used as a manifest
// key: "{os}_{browser}", lowercased, with everything but word characters and
// dots stripped. Example: ("Win10-E17", "chrome") → "win10_chrome".
func BrowserKey(osName, browser string) string {
	osName = osSuffixRe.ReplaceAllString(osName, "")
	key := strings.ToLower(osName + "_" + browser)
	return keyCleanRe.ReplaceAllString(key, "")
}
