package classifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/harshavardhanjagdale/inboxsense/internal/models"
	"github.com/harshavardhanjagdale/inboxsense/internal/storage"
)

const promptBodyLimit = 1000

// completionAPI is the slice of the OpenAI client the classifier needs,
// extracted so tests can substitute a canned model.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type GPTClassifier struct {
	client    completionAPI
	model     string
	maxTokens int
	storage   storage.Storage
	logger    *zap.Logger
}

func NewGPTClassifier(apiKey string, model string, maxTokens int, store storage.Storage, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
		storage:   store,
		logger:    logger,
	}
}

// ClassifyAndRecord builds a bounded prompt from the message, invokes the
// model deterministically, parses its answer with a fixed fallback, and
// persists one classification record before returning the verdict. Model
// failures never propagate raw; they produce the fallback verdict.
func (c *GPTClassifier) ClassifyAndRecord(ctx context.Context, userID string, msg models.Message) (*models.Verdict, error) {
	prompt := buildPrompt(msg)

	raw := ""
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: 0,
		},
	)
	if err != nil {
		c.logger.Error("Failed to get model response", zap.Error(err))
	} else if len(resp.Choices) > 0 {
		raw = resp.Choices[0].Message.Content
	}

	parsed := ParseVerdict(raw)
	if !parsed.Parsed {
		c.logger.Warn("Model output did not parse, using fallback verdict",
			zap.String("reason", parsed.Reason),
			zap.String("response", raw))
	}

	verdict := &models.Verdict{
		Category:      parsed.Category,
		Action:        parsed.Action,
		Justification: parsed.Justification,
		Raw:           raw,
		Fallback:      !parsed.Parsed,
	}

	if err := c.record(ctx, userID, msg, verdict, parsed); err != nil {
		return nil, fmt.Errorf("recording classification: %w", err)
	}
	return verdict, nil
}

// record persists the classification. The raw model text is stored verbatim
// regardless of parse outcome. On a successful parse a field is null exactly
// when it was absent from the parsed object; on parse failure the record
// carries the fixed fallback triple.
func (c *GPTClassifier) record(ctx context.Context, userID string, msg models.Message, verdict *models.Verdict, parsed ParsedVerdict) error {
	email := &models.Email{
		ID:          strconv.FormatInt(time.Now().UnixMilli(), 10),
		UserID:      userID,
		Subject:     msg.Subject,
		Snippet:     snippetOf(msg),
		RawResponse: verdict.Raw,
	}
	if parsed.Parsed {
		if parsed.Category != "" {
			email.Category = &parsed.Category
		}
		if parsed.Action != "" {
			email.Action = &parsed.Action
		}
		if parsed.Justification != "" {
			email.Justification = &parsed.Justification
		}
	} else {
		email.Category = &parsed.Category
		email.Action = &parsed.Action
		email.Justification = &parsed.Justification
	}

	return c.storage.CreateEmail(ctx, email)
}

func buildPrompt(msg models.Message) string {
	body := msg.Body
	if body == "" {
		body = msg.Snippet
	}
	if runes := []rune(body); len(runes) > promptBodyLimit {
		body = string(runes[:promptBodyLimit])
	}

	return fmt.Sprintf(`You are an email triage assistant. Classify the email below.

Respond with strict JSON only, exactly these three keys and nothing else:
{
    "category": one of [%s, "Other"],
    "action": a short recommended next step,
    "justification": one sentence explaining the category
}

Subject: %s

Body: %s`, quotedCategories(), msg.Subject, body)
}

func quotedCategories() string {
	quoted := make([]string, len(Categories))
	for i, c := range Categories {
		quoted[i] = strconv.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

func snippetOf(msg models.Message) string {
	if msg.Preview != "" {
		return msg.Preview
	}
	return msg.Snippet
}
