// Package mbox implements a Source that reads messages from an mbox archive,
// the format Google Takeout exports mailboxes in. It exists for backfilling
// history past what the Gmail API query window returns; imported messages
// flow through the same extract and write pipeline as live mail.
package mbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"strings"

	"github.com/emersion/go-mbox"

	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/extract"
)

// Source reads raw messages from one mbox file.
type Source struct {
	path   string
	logger *slog.Logger
}

// New creates an mbox source for the archive at path.
func New(path string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{path: path, logger: logger}
}

// Fetch streams the archive's messages to out in file order. An mbox has no
// query language, so q.Raw is ignored; q.MaxResults still caps the stream.
// A message that cannot be parsed is logged and skipped.
func (s *Source) Fetch(ctx context.Context, q api.Query, out chan<- *api.RawMessage) error {
	defer close(out)

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening mbox: %w", err)
	}
	defer f.Close()

	mr := mbox.NewReader(f)
	var sent int64
	for {
		if q.MaxResults > 0 && sent >= q.MaxResults {
			return nil
		}

		msgReader, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading mbox: %w", err)
		}

		raw, err := parseMessage(msgReader)
		if err != nil {
			s.logger.Warn("skipping unparseable message", "error", err)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- raw:
			sent++
		}
	}
}

// parseMessage flattens one RFC 5322 message into the transport-neutral form
// the extractor consumes. The Message-ID header, angle brackets stripped,
// becomes the dedup key; Takeout preserves Gmail's ids there.
func parseMessage(r io.Reader) (*api.RawMessage, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("parsing message headers: %w", err)
	}

	id := strings.Trim(msg.Header.Get("Message-ID"), "<> ")
	if id == "" {
		return nil, errors.New("message has no Message-ID")
	}

	body, err := bodyText(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return &api.RawMessage{
		ID:         id,
		From:       msg.Header.Get("From"),
		To:         msg.Header.Get("To"),
		Subject:    decodeSubject(msg.Header.Get("Subject")),
		ReceivedAt: msg.Header.Get("Date"),
		BodyText:   body,
	}, nil
}

var wordDecoder = mime.WordDecoder{}

// decodeSubject unfolds RFC 2047 encoded words; a malformed header keeps its
// raw form rather than failing the message.
func decodeSubject(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// bodyText extracts the plain text of a message: the first text/plain part
// of a multipart message, then text/html reduced to text, then the raw body.
func bodyText(contentType, encoding string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", errors.New("multipart message without boundary")
		}
		return multipartText(body, boundary)
	}

	data, err := io.ReadAll(decodeTransfer(body, encoding))
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(mediaType, "text/html") {
		if text, err := extract.HTMLToText(string(data)); err == nil && text != "" {
			return text, nil
		}
	}
	return extract.NormalizeText(string(data)), nil
}

// multipartText walks parts in order, preferring text/plain over text/html.
// Nested multiparts (alternative inside mixed) recurse.
func multipartText(body io.Reader, boundary string) (string, error) {
	var html string
	parts := multipart.NewReader(body, boundary)
	for {
		part, err := parts.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			continue
		}
		encoding := part.Header.Get("Content-Transfer-Encoding")

		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			if text, err := multipartText(part, params["boundary"]); err == nil && text != "" {
				return text, nil
			}
		case mediaType == "text/plain":
			data, err := io.ReadAll(decodeTransfer(part, encoding))
			if err == nil && len(data) > 0 {
				return extract.NormalizeText(string(data)), nil
			}
		case mediaType == "text/html" && html == "":
			data, err := io.ReadAll(decodeTransfer(part, encoding))
			if err == nil {
				if text, err := extract.HTMLToText(string(data)); err == nil {
					html = text
				}
			}
		}
	}
	return html, nil
}

// decodeTransfer unwraps the content transfer encoding; unknown encodings
// pass through as-is.
func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}
