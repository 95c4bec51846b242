// Package useragent derives coarse device, browser and OS labels from a
// User-Agent header for session listings and statistics.
package useragent

import "strings"

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceCLI     = "cli"
	Unknown       = "unknown"
)

// Info is the classification result.
type Info struct {
	DeviceType string
	Browser    string
	OS         string
}

type rule struct {
	token string
	name  string
}

// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
var browserRules = []rule{
	{"edg/", "Edge"},
	{"edge/", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser", "Samsung Internet"},
	{"firefox/", "Firefox"},
	{"fxios", "Firefox"},
	{"crios", "Chrome"},
	{"chrome/", "Chrome"},
	{"safari/", "Safari"},
	{"msie", "Internet Explorer"},
	{"trident/", "Internet Explorer"},
	{"curl/", "curl"},
	{"wget/", "Wget"},
	{"postman", "Postman"},
	{"go-http-client", "Go HTTP client"},
	{"activityctl", "activityctl"},
}

var osRules = []rule{
	{"windows", "Windows"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"android", "Android"},
	{"cros ", "ChromeOS"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"linux", "Linux"},
}

var botTokens = []string{"bot", "crawler", "spider", "slurp", "headless"}

var cliTokens = []string{"curl/", "wget/", "go-http-client", "postman", "activityctl", "httpie"}

// Parse classifies ua. Empty input yields Unknown for every field.
func Parse(ua string) Info {
	if strings.TrimSpace(ua) == "" {
		return Info{DeviceType: Unknown, Browser: Unknown, OS: Unknown}
	}
	lower := strings.ToLower(ua)

	return Info{
		DeviceType: device(lower),
		Browser:    match(lower, browserRules),
		OS:         match(lower, osRules),
	}
}

func device(lower string) string {
	if containsAny(lower, botTokens) {
		return DeviceBot
	}
	if containsAny(lower, cliTokens) {
		return DeviceCLI
	}
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")) {
		return DeviceTablet
	}
	if strings.Contains(lower, "mobi") || strings.Contains(lower, "iphone") {
		return DeviceMobile
	}
	return DeviceDesktop
}

func match(lower string, rules []rule) string {
	for _, r := range rules {
		if strings.Contains(lower, r.token) {
			return r.name
		}
	}
	return Unknown
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
