package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harshavardhanjagdale/inboxsense/internal/crypto"
	"github.com/harshavardhanjagdale/inboxsense/internal/models"
	"github.com/harshavardhanjagdale/inboxsense/internal/storage"
)

type cannedModel struct {
	response string
	err      error
	lastReq  openai.ChatCompletionRequest
}

func (m *cannedModel) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.response}},
		},
	}, nil
}

func strPtr(s string) *string { return &s }

func newTestClassifier(t *testing.T, model *cannedModel) (*GPTClassifier, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage(crypto.NewKeyring([]byte("classifier-test-secret")), zap.NewNop())
	_, err := store.CreateUser(context.Background(), "test-user", models.TokenSet{
		AccessToken: strPtr("access"),
	})
	require.NoError(t, err)

	clf := &GPTClassifier{
		client:    model,
		model:     "gpt-4o-mini",
		maxTokens: 300,
		storage:   store,
		logger:    zap.NewNop(),
	}
	return clf, store
}

func testMessage() models.Message {
	return models.Message{
		ID:      "m1",
		Subject: "Invoice overdue",
		Body:    "Your invoice #4521 is 30 days overdue. Please arrange payment.",
		Snippet: "Your invoice #4521 is 30 days overdue.",
	}
}

func TestClassifyAndRecordSuccess(t *testing.T) {
	model := &cannedModel{
		response: `{"category": "Important", "action": "Pay the invoice", "justification": "Payment is overdue."}`,
	}
	clf, store := newTestClassifier(t, model)
	ctx := context.Background()

	verdict, err := clf.ClassifyAndRecord(ctx, "test-user", testMessage())
	require.NoError(t, err)
	assert.Equal(t, "Important", verdict.Category)
	assert.Equal(t, "Pay the invoice", verdict.Action)
	assert.False(t, verdict.Fallback)
	assert.Equal(t, model.response, verdict.Raw)

	// Deterministic sampling.
	assert.Zero(t, model.lastReq.Temperature)
	assert.Equal(t, 300, model.lastReq.MaxTokens)

	records, err := store.GetEmailsByUser(ctx, "test-user")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.response, records[0].RawResponse)
	require.NotNil(t, records[0].Category)
	assert.Equal(t, "Important", *records[0].Category)
}

func TestClassifyAndRecordFallbackOnUnparsableOutput(t *testing.T) {
	model := &cannedModel{response: "not json"}
	clf, store := newTestClassifier(t, model)
	ctx := context.Background()

	verdict, err := clf.ClassifyAndRecord(ctx, "test-user", testMessage())
	require.NoError(t, err)
	assert.Equal(t, "Other", verdict.Category)
	assert.Equal(t, "Review manually", verdict.Action)
	assert.True(t, verdict.Fallback)
	assert.Equal(t, "not json", verdict.Raw)

	records, err := store.GetEmailsByUser(ctx, "test-user")
	require.NoError(t, err)
	require.Len(t, records, 1)
	// Raw output is preserved verbatim even when parsing failed.
	assert.Equal(t, "not json", records[0].RawResponse)
	require.NotNil(t, records[0].Category)
	assert.Equal(t, "Other", *records[0].Category)
	require.NotNil(t, records[0].Action)
	assert.Equal(t, "Review manually", *records[0].Action)
}

func TestClassifyAndRecordPersistsParsedFieldsAsIs(t *testing.T) {
	// Parsed output is trusted: an absent action stays null and an off-list
	// category is stored exactly as the model produced it.
	model := &cannedModel{
		response: `{"category": "Banking", "justification": "Monthly statement."}`,
	}
	clf, store := newTestClassifier(t, model)
	ctx := context.Background()

	verdict, err := clf.ClassifyAndRecord(ctx, "test-user", testMessage())
	require.NoError(t, err)
	assert.Equal(t, "Banking", verdict.Category)
	assert.Empty(t, verdict.Action)
	assert.False(t, verdict.Fallback)

	records, err := store.GetEmailsByUser(ctx, "test-user")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Category)
	assert.Equal(t, "Banking", *records[0].Category)
	assert.Nil(t, records[0].Action)
	require.NotNil(t, records[0].Justification)
	assert.Equal(t, "Monthly statement.", *records[0].Justification)
}

func TestClassifyAndRecordFallbackOnModelFailure(t *testing.T) {
	model := &cannedModel{err: errors.New("model unavailable")}
	clf, store := newTestClassifier(t, model)
	ctx := context.Background()

	verdict, err := clf.ClassifyAndRecord(ctx, "test-user", testMessage())
	require.NoError(t, err)
	assert.Equal(t, "Other", verdict.Category)
	assert.True(t, verdict.Fallback)

	records, err := store.GetEmailsByUser(ctx, "test-user")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestClassifyAndRecordTruncatesPrompt(t *testing.T) {
	model := &cannedModel{
		response: `{"category": "Other", "action": "Skim", "justification": "Long message."}`,
	}
	clf, _ := newTestClassifier(t, model)

	msg := testMessage()
	msg.Body = strings.Repeat("x", 5000)
	_, err := clf.ClassifyAndRecord(context.Background(), "test-user", msg)
	require.NoError(t, err)

	prompt := model.lastReq.Messages[0].Content
	assert.Less(t, len(prompt), 2000)
}

func TestClassifyAndRecordHandlesCodeFencedOutput(t *testing.T) {
	model := &cannedModel{
		response: "```json\n{\"category\": \"Spam\", \"action\": \"Delete\", \"justification\": \"Unsolicited offer.\"}\n```",
	}
	clf, _ := newTestClassifier(t, model)

	verdict, err := clf.ClassifyAndRecord(context.Background(), "test-user", testMessage())
	require.NoError(t, err)
	assert.Equal(t, "Spam", verdict.Category)
	assert.False(t, verdict.Fallback)
}
