// Package gmail implements a Source that reads bank emails from a Gmail
// mailbox through the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/extract"
)

const (
	// listPageSize is the number of message IDs requested per list page.
	listPageSize = 100

	// fetchConcurrency bounds concurrent Messages.Get calls. The Gmail API
	// throttles per-user bursts well below this.
	fetchConcurrency = 5

	retryAttempts = 3
	retryDelay    = 2 * time.Second
)

// Source reads messages from the authenticated user's Gmail mailbox.
type Source struct {
	svc    *gmail.Service
	logger *slog.Logger
}

// New creates a Gmail source. The HTTP client must already carry OAuth
// credentials for the target mailbox.
func New(httpClient *http.Client, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := gmail.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	return &Source{svc: svc, logger: logger}, nil
}

// Fetch lists messages matching the query, downloads each in full, and sends
// them to out in the order the mailbox returned them. The channel is closed
// when Fetch returns. A message that cannot be downloaded is logged and
// skipped; only listing failures and context cancellation abort the fetch.
func (s *Source) Fetch(ctx context.Context, q api.Query, out chan<- *api.RawMessage) error {
	defer close(out)

	ids, err := s.listMessageIDs(ctx, q)
	if err != nil {
		return err
	}

	s.logger.Info("found messages", "count", len(ids), "query", q.Raw)

	msgs := make([]*api.RawMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			raw, err := s.getMessage(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("failed to fetch message", "message_id", id, "error", err)
				return nil
			}
			msgs[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, raw := range msgs {
		if raw == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- raw:
		}
	}

	return nil
}

// listMessageIDs pages through the message list until the query is exhausted
// or q.MaxResults IDs have been collected.
func (s *Source) listMessageIDs(ctx context.Context, q api.Query) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		size := int64(listPageSize)
		if q.MaxResults > 0 {
			if remaining := q.MaxResults - int64(len(ids)); remaining < size {
				size = remaining
			}
		}

		call := s.svc.Users.Messages.List("me").Q(q.Raw).MaxResults(size).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := retry.Do(
			func() error {
				var err error
				resp, err = call.Do()
				return err
			},
			retry.RetryIf(s.isRateLimited),
			retry.Attempts(retryAttempts),
			retry.Delay(retryDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}

		if q.MaxResults > 0 && int64(len(ids)) >= q.MaxResults {
			return ids[:q.MaxResults], nil
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (s *Source) getMessage(ctx context.Context, msgID string) (*api.RawMessage, error) {
	var msg *gmail.Message
	err := retry.Do(
		func() error {
			var err error
			msg, err = s.svc.Users.Messages.Get("me", msgID).Format("full").Context(ctx).Do()
			return err
		},
		retry.RetryIf(s.isRateLimited),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}

	return rawFromMessage(msg), nil
}

func (s *Source) isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		s.logger.Warn("rate limited, will retry", "error", err)
		return true
	}
	return false
}

// rawFromMessage flattens a Gmail message into the transport-neutral form the
// extractor consumes.
func rawFromMessage(msg *gmail.Message) *api.RawMessage {
	raw := &api.RawMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				raw.From = header.Value
			case "To":
				raw.To = header.Value
			case "Subject":
				raw.Subject = header.Value
			}
		}
	}

	if msg.InternalDate > 0 {
		raw.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC().Format(time.RFC3339)
	}

	raw.BodyText = extractBody(msg)
	return raw
}

// extractBody decodes the message body, preferring a text/plain part, then a
// text/html part reduced to text, then the top-level payload body.
func extractBody(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}

	if data := findPartData(msg.Payload.Parts, "text/plain"); data != "" {
		return extract.NormalizeText(data)
	}

	if data := findPartData(msg.Payload.Parts, "text/html"); data != "" {
		if text, err := extract.HTMLToText(data); err == nil && text != "" {
			return text
		}
	}

	if msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		decoded, err := base64.URLEncoding.DecodeString(msg.Payload.Body.Data)
		if err != nil {
			return ""
		}
		body := string(decoded)
		if strings.Contains(msg.Payload.MimeType, "html") {
			if text, err := extract.HTMLToText(body); err == nil {
				return text
			}
		}
		return extract.NormalizeText(body)
	}

	return ""
}

// findPartData walks the part tree depth-first and returns the decoded data
// of the first part with the wanted MIME type. Multipart containers nest, so
// bank emails often carry text/plain two levels down.
func findPartData(parts []*gmail.MessagePart, mimeType string) string {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
			if decoded, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
				return string(decoded)
			}
		}
		if data := findPartData(part.Parts, mimeType); data != "" {
			return data
		}
	}
	return ""
}
