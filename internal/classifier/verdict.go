package classifier

import (
	"encoding/json"
	"strings"
)

const (
	fallbackAction        = "Review manually"
	fallbackJustification = "Could not parse model output."
)

// ParsedVerdict is the tagged outcome of parsing model output: either the
// three structured fields exactly as the model produced them, or a fallback
// with the reason parsing failed. The raw text is handled by the caller and
// stored verbatim either way.
type ParsedVerdict struct {
	Parsed        bool
	Category      string
	Action        string
	Justification string
	Reason        string // set when Parsed is false
}

type modelAnswer struct {
	Category      string `json:"category"`
	Action        string `json:"action"`
	Justification string `json:"justification"`
}

// ParseVerdict attempts a strict JSON parse of the model's answer, tolerating
// only a Markdown code-fence wrapper around it. A successful parse carries the
// fields exactly as the model produced them: absent fields stay empty, and an
// off-list category is kept as-is rather than rewritten. The fallback triple
// exists only for output that does not parse at all.
func ParseVerdict(raw string) ParsedVerdict {
	text := stripCodeFence(strings.TrimSpace(raw))

	var answer modelAnswer
	if err := json.Unmarshal([]byte(text), &answer); err != nil {
		return fallbackVerdict(err.Error())
	}
	return ParsedVerdict{
		Parsed:        true,
		Category:      answer.Category,
		Action:        answer.Action,
		Justification: answer.Justification,
	}
}

func fallbackVerdict(reason string) ParsedVerdict {
	return ParsedVerdict{
		Parsed:        false,
		Category:      CategoryOther,
		Action:        fallbackAction,
		Justification: fallbackJustification,
		Reason:        reason,
	}
}

// stripCodeFence removes a ```json ... ``` wrapper when the model ignores
// the plain-JSON instruction. The fence tag is matched case-insensitively.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if len(text) >= 4 && strings.EqualFold(text[:4], "json") {
		text = text[4:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
