package ingest

import (
	"encoding/base64"
	"html"
	"net/mail"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/harshavardhanjagdale/inboxsense/internal/models"
)

// extractMessage converts a provider message into the ingested form: headers
// pulled out, plain-text body preferred over HTML, cleaned and previewed.
func extractMessage(msg *gmailapi.Message) models.Message {
	out := models.Message{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		Snippet:      msg.Snippet,
		InternalDate: msg.InternalDate,
	}
	if msg.InternalDate > 0 {
		out.ReceivedAt = time.UnixMilli(msg.InternalDate)
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				out.Subject = h.Value
			case "From":
				out.From = h.Value
				out.FromAddress = bareAddress(h.Value)
			case "Date":
				out.Date = h.Value
			case "Message-ID":
				out.MessageIDHdr = h.Value
			}
		}
	}

	body := extractPlainText(msg.Payload)
	if body == "" {
		body = htmlToText(extractPart(msg.Payload, "text/html"))
	}
	out.Body = CleanBody(body)
	out.Preview = Preview(out.Body)
	return out
}

// bareAddress extracts the lowercased address from a From header. Falls back
// to the raw value when the header does not parse.
func bareAddress(header string) string {
	addr, err := mail.ParseAddress(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return strings.ToLower(addr.Address)
}

func extractPlainText(part *gmailapi.MessagePart) string {
	return extractPart(part, "text/plain")
}

// extractPart walks the MIME tree looking for the first part of the wanted
// type, recursing into nested multiparts and skipping attachments and
// image/audio/video parts entirely.
func extractPart(part *gmailapi.MessagePart, mimeType string) string {
	if part == nil || skipPart(part) {
		return ""
	}

	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			return string(data)
		}
		// The provider omits padding on some payloads.
		if data, err := base64.RawURLEncoding.DecodeString(part.Body.Data); err == nil {
			return string(data)
		}
		return ""
	}

	for _, p := range part.Parts {
		if text := extractPart(p, mimeType); text != "" {
			return text
		}
	}
	return ""
}

func skipPart(part *gmailapi.MessagePart) bool {
	if part.Filename != "" {
		return true
	}
	for _, prefix := range []string{"image/", "audio/", "video/"} {
		if strings.HasPrefix(part.MimeType, prefix) {
			return true
		}
	}
	return false
}

// htmlToText is a minimal tag stripper for messages that only carry an HTML
// part. Script and style contents are dropped, tags removed, entities
// unescaped.
func htmlToText(src string) string {
	if src == "" {
		return ""
	}

	var b strings.Builder
	inTag := false
	skipUntil := ""
	lower := strings.ToLower(src)

	for i := 0; i < len(src); i++ {
		if skipUntil != "" {
			if strings.HasPrefix(lower[i:], skipUntil) {
				i += len(skipUntil) - 1
				skipUntil = ""
			}
			continue
		}
		switch {
		case strings.HasPrefix(lower[i:], "<script"):
			skipUntil = "</script>"
		case strings.HasPrefix(lower[i:], "<style"):
			skipUntil = "</style>"
		case src[i] == '<':
			inTag = true
			// Block-level boundaries become line breaks.
			for _, tag := range []string{"<br", "<p", "</p", "<div", "</div", "<tr", "</tr"} {
				if strings.HasPrefix(lower[i:], tag) {
					b.WriteByte('\n')
					break
				}
			}
		case src[i] == '>':
			inTag = false
		case !inTag:
			b.WriteByte(src[i])
		}
	}
	return html.UnescapeString(b.String())
}
