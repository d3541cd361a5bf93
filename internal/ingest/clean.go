package ingest

import (
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`https?://\S+`)
	// Long opaque runs are almost always tracking tokens, never prose.
	trackingTokenPattern = regexp.MustCompile(`\b[A-Za-z0-9_-]{24,}\b`)
	whitespacePattern    = regexp.MustCompile(`[ \t]+`)
)

// Footer boilerplate markers. A line containing one of these is dropped
// along with everything the marketer stuffed into it.
var boilerplateMarkers = []string{
	"unsubscribe",
	"view this email in your browser",
	"view in browser",
	"email preferences",
	"manage your preferences",
	"update your preferences",
	"privacy policy",
	"you are receiving this email",
	"to stop receiving these emails",
}

// CleanBody strips the machinery out of a plain-text body: URLs, unsubscribe
// and footer boilerplate, long opaque tracking tokens, and lines that are
// mostly query-string characters.
func CleanBody(body string) string {
	body = urlPattern.ReplaceAllString(body, "")
	body = trackingTokenPattern.ReplaceAllString(body, "")

	var kept []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(whitespacePattern.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		if isBoilerplate(line) || isTrackingLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isBoilerplate(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range boilerplateMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isTrackingLine flags lines whose ratio of %, & and = characters exceeds
// 30%, which catches tracking pixels and query-string fragments that survive
// URL stripping.
func isTrackingLine(line string) bool {
	if line == "" {
		return false
	}
	special := 0
	for _, r := range line {
		switch r {
		case '%', '&', '=':
			special++
		}
	}
	return float64(special)/float64(len([]rune(line))) > 0.3
}

const (
	previewMinWords = 50
	previewMaxWords = 200
)

// Preview returns an excerpt of up to previewMaxWords words. Bodies shorter
// than the minimum are returned whole; the bounds only shape long bodies.
func Preview(body string) string {
	words := strings.Fields(body)
	if len(words) <= previewMinWords {
		return strings.Join(words, " ")
	}
	if len(words) > previewMaxWords {
		words = words[:previewMaxWords]
	}
	return strings.Join(words, " ")
}

// noReplyPatterns are checked against both the bare sender address and the
// raw From header, case-insensitively.
var noReplyPatterns = []string{
	"noreply@",
	"no-reply@",
	"no_reply@",
	"donotreply@",
	"do-not-reply@",
	"do_not_reply@",
}

// IsNoReply reports whether a sender looks auto-generated.
func IsNoReply(address, rawHeader string) bool {
	addr := strings.ToLower(address)
	raw := strings.ToLower(rawHeader)
	for _, pattern := range noReplyPatterns {
		if strings.HasPrefix(addr, pattern) || strings.Contains(raw, pattern) {
			return true
		}
	}
	return false
}
