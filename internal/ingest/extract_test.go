package ingest

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtractPrefersPlainTextInNestedMultipart(t *testing.T) {
	msg := &gmailapi.Message{
		Id: "m1",
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: "Dana <dana@example.com>"},
				{Name: "Subject", Value: "Agenda"},
			},
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "image/png",
					Filename: "logo.png",
					Body:     &gmailapi.MessagePartBody{Data: b64("binarydata")},
				},
				{
					MimeType: "multipart/alternative",
					Parts: []*gmailapi.MessagePart{
						{
							MimeType: "text/html",
							Body:     &gmailapi.MessagePartBody{Data: b64("<p>HTML version</p>")},
						},
						{
							MimeType: "text/plain",
							Body:     &gmailapi.MessagePartBody{Data: b64("Plain version of the agenda")},
						},
					},
				},
			},
		},
	}

	out := extractMessage(msg)
	assert.Equal(t, "Agenda", out.Subject)
	assert.Equal(t, "dana@example.com", out.FromAddress)
	assert.Contains(t, out.Body, "Plain version of the agenda")
	assert.NotContains(t, out.Body, "HTML version")
}

func TestExtractFallsBackToHTML(t *testing.T) {
	msg := &gmailapi.Message{
		Id: "m1",
		Payload: &gmailapi.MessagePart{
			MimeType: "text/html",
			Body:     &gmailapi.MessagePartBody{Data: b64("<div>Hello <b>there</b> &amp; welcome</div><style>.x{color:red}</style>")},
		},
	}

	out := extractMessage(msg)
	assert.Contains(t, out.Body, "Hello there & welcome")
	assert.NotContains(t, out.Body, "color:red")
	assert.NotContains(t, out.Body, "<b>")
}

func TestExtractSkipsAttachmentOnlyParts(t *testing.T) {
	msg := &gmailapi.Message{
		Id: "m1",
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "audio/mpeg",
					Body:     &gmailapi.MessagePartBody{Data: b64("audio")},
				},
				{
					MimeType: "text/plain",
					Filename: "notes.txt",
					Body:     &gmailapi.MessagePartBody{Data: b64("attached file contents")},
				},
			},
		},
	}

	out := extractMessage(msg)
	assert.Empty(t, out.Body)
}

func TestBareAddress(t *testing.T) {
	assert.Equal(t, "dana@example.com", bareAddress("Dana Smith <Dana@Example.com>"))
	assert.Equal(t, "dana@example.com", bareAddress("dana@example.com"))
	assert.Equal(t, "not an address", bareAddress("not an address"))
}

func TestExtractMessagePreview(t *testing.T) {
	body := "This quarterly planning update covers the roadmap milestones we discussed. "
	for len(body) < 3000 {
		body += "Each milestone has an owner and a target date assigned to it. "
	}

	msg := &gmailapi.Message{
		Id: "m1",
		Payload: &gmailapi.MessagePart{
			MimeType: "text/plain",
			Body:     &gmailapi.MessagePartBody{Data: b64(body)},
		},
	}

	out := extractMessage(msg)
	require.NotEmpty(t, out.Preview)
	assert.LessOrEqual(t, len(out.Preview), len(out.Body))
}
