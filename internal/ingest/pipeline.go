// Package ingest lists, fetches and cleans recent mail for one user. It
// prefers partial results: a candidate that fails to fetch or survive
// filtering is dropped, never allowed to abort the whole listing.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/harshavardhanjagdale/inboxsense/internal/apperr"
	"github.com/harshavardhanjagdale/inboxsense/internal/auth"
	"github.com/harshavardhanjagdale/inboxsense/internal/models"
)

const (
	// listCap is the bound on what ListRecent returns; candidateFetch
	// over-fetches to absorb post-filter attrition.
	listCap        = 50
	candidateFetch = 70
	fetchWorkers   = 5
)

// Mailbox is the provider surface the pipeline consumes.
type Mailbox interface {
	Profile(ctx context.Context) (string, error)
	ListIDs(ctx context.Context, query string, max int64) ([]string, error)
	Get(ctx context.Context, id string) (*gmailapi.Message, error)
}

// MailboxOpener turns a resolved credential into a Mailbox.
type MailboxOpener func(ctx context.Context, cred *auth.Credential) (Mailbox, error)

type Pipeline struct {
	auth   *auth.Manager
	open   MailboxOpener
	logger *zap.Logger
}

func NewPipeline(authManager *auth.Manager, open MailboxOpener, logger *zap.Logger) *Pipeline {
	return &Pipeline{auth: authManager, open: open, logger: logger}
}

func (p *Pipeline) mailbox(ctx context.Context, userID string) (Mailbox, error) {
	cred, err := p.auth.GetLiveCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.open(ctx, cred)
}

// ListRecent returns up to listCap cleaned messages for the user, newest
// first. Promotional, social and forum mail is excluded at the query level;
// self-sent and no-reply mail is dropped after header inspection.
func (p *Pipeline) ListRecent(ctx context.Context, userID string) ([]models.Message, error) {
	mbox, err := p.mailbox(ctx, userID)
	if err != nil {
		return nil, err
	}

	self, err := mbox.Profile(ctx)
	if err != nil {
		return nil, err
	}
	// Extracted sender addresses are lowercased, so the profile address must
	// be too or a mixed-case profile defeats the self-sent filter.
	self = strings.ToLower(self)

	query := fmt.Sprintf("category:primary -from:%s", self)
	ids, err := mbox.ListIDs(ctx, query, candidateFetch)
	if err != nil {
		return nil, err
	}

	messages := p.fetchCandidates(ctx, mbox, ids, self)

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].InternalDate > messages[j].InternalDate
	})
	if len(messages) > listCap {
		messages = messages[:listCap]
	}
	return messages, nil
}

// fetchCandidates fetches message details in parallel, extracts and filters.
// Per-candidate failures drop the candidate only.
func (p *Pipeline) fetchCandidates(ctx context.Context, mbox Mailbox, ids []string, self string) []models.Message {
	var (
		mu       sync.Mutex
		messages []models.Message
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, fetchWorkers)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			raw, err := mbox.Get(ctx, id)
			if err != nil {
				p.logger.Debug("Dropping candidate after fetch failure",
					zap.String("message_id", id),
					zap.Error(err))
				return
			}

			msg := extractMessage(raw)
			if !keepMessage(msg, self) {
				return
			}

			mu.Lock()
			messages = append(messages, msg)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return messages
}

// keepMessage discards self-sent and auto-generated mail entirely.
func keepMessage(msg models.Message, self string) bool {
	if msg.FromAddress != "" && msg.FromAddress == self {
		return false
	}
	if IsNoReply(msg.FromAddress, msg.From) {
		return false
	}
	return true
}

// FetchOne fetches and extracts a single message.
func (p *Pipeline) FetchOne(ctx context.Context, userID, messageID string) (*models.Message, error) {
	if messageID == "" {
		return nil, apperr.Validation("message id is required")
	}

	mbox, err := p.mailbox(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw, err := mbox.Get(ctx, messageID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound,
				"message not found; it may have moved, refresh the list and retry", err)
		}
		return nil, err
	}

	msg := extractMessage(raw)
	return &msg, nil
}
