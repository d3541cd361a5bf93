package classifier

import (
	"context"

	"github.com/harshavardhanjagdale/inboxsense/internal/models"
)

// Classifier turns one ingested message into a persisted verdict.
type Classifier interface {
	ClassifyAndRecord(ctx context.Context, userID string, msg models.Message) (*models.Verdict, error)
}

// Categories form the closed set the model is instructed to choose from;
// anything else collapses to CategoryOther.
var Categories = []string{
	"Urgent",
	"Important",
	"Personal",
	"Newsletter",
	"Promotional",
	"Spam",
}

const CategoryOther = "Other"
