// Package gmail wraps the Gmail API behind the small surface the ingestion
// pipeline consumes. Provider status codes are mapped onto the shared error
// taxonomy here, and every API call runs through a shared circuit breaker so
// a provider outage fails fast instead of piling up blocked requests.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/harshavardhanjagdale/inboxsense/internal/apperr"
	"github.com/harshavardhanjagdale/inboxsense/internal/auth"
)

// Factory builds per-request clients over a shared circuit breaker. The
// breaker must outlive individual requests to be useful.
type Factory struct {
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewFactory(logger *zap.Logger) *Factory {
	settings := gobreaker.Settings{
		Name:     "gmail-api",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var nce *nonCircuitError
			return errors.As(err, &nce)
		},
	}

	return &Factory{
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// ForCredential constructs a Gmail client over the credential's refreshing
// token source.
func (f *Factory) ForCredential(ctx context.Context, cred *auth.Credential) (*Client, error) {
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(cred.Source))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return &Client{svc: svc, cb: f.cb, logger: f.logger}, nil
}

type Client struct {
	svc    *gmailapi.Service
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// Profile returns the authenticated account's own address.
func (c *Client) Profile(ctx context.Context) (string, error) {
	var profile *gmailapi.Profile
	err := c.execute(func() error {
		var apiErr error
		profile, apiErr = c.svc.Users.GetProfile("me").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", wrapError(err, "failed to get profile")
	}
	return profile.EmailAddress, nil
}

// ListIDs returns up to max message ids matching the query, newest first per
// the provider's ordering.
func (c *Client) ListIDs(ctx context.Context, query string, max int64) ([]string, error) {
	var resp *gmailapi.ListMessagesResponse
	err := c.execute(func() error {
		var apiErr error
		resp, apiErr = c.svc.Users.Messages.List("me").
			Q(query).
			LabelIds("INBOX").
			MaxResults(max).
			Context(ctx).
			Do()
		return apiErr
	})
	if err != nil {
		return nil, wrapError(err, "failed to list messages")
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Get fetches one message with full payload.
func (c *Client) Get(ctx context.Context, id string) (*gmailapi.Message, error) {
	var msg *gmailapi.Message
	err := c.execute(func() error {
		var apiErr error
		msg, apiErr = c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, wrapError(err, "failed to get message")
	}
	return msg, nil
}

// Send submits a raw RFC 2822 message. Not retried on failure: a timed-out
// send may still have completed on the provider side.
func (c *Client) Send(ctx context.Context, raw []byte, threadID string) error {
	msg := &gmailapi.Message{
		Raw:      encodeRaw(raw),
		ThreadId: threadID,
	}
	err := c.execute(func() error {
		_, apiErr := c.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return wrapError(err, "failed to send message")
	}
	return nil
}

// execute wraps an API call with the circuit breaker. Client errors must not
// trip the circuit; only provider-side failures and throttling do.
func (c *Client) execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }

// wrapError maps provider status codes onto the shared taxonomy.
func wrapError(err error, msg string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400:
			return apperr.Wrap(apperr.KindValidation, msg, err)
		case 401:
			return apperr.Wrap(apperr.KindAuthentication, msg, err)
		case 403:
			return apperr.Wrap(apperr.KindPermission, msg, err)
		case 404:
			return apperr.Wrap(apperr.KindNotFound, msg, err)
		case 429:
			return apperr.Wrap(apperr.KindRateLimit, msg, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
