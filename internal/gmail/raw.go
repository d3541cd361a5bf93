package gmail

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Reply describes an outgoing reply before RFC 2822 encoding.
type Reply struct {
	To        string
	Subject   string
	InReplyTo string // Message-ID header of the message being answered
	Body      string
	ThreadID  string
}

// BuildRawReply assembles the RFC 2822 wire form of a reply. The caller's own
// address is filled in by the provider, so no From header is set.
func BuildRawReply(r Reply) []byte {
	subject := r.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", r.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if r.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", r.InReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", r.InReplyTo)
	}
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(r.Body)

	return []byte(b.String())
}

func encodeRaw(raw []byte) string {
	return base64.URLEncoding.EncodeToString(raw)
}
