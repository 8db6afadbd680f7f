// Command emaildump fetches emails matching a query and writes them as
// RawMessage JSON fixtures, used to collect samples for extractor tests.
// Recipient addresses and message ids are scrubbed before writing so
// fixtures can be committed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/joho/godotenv"

	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/client"
	"github.com/paisatrail/paisatrail/pkg/config"
	"github.com/paisatrail/paisatrail/pkg/logging"
	gmailreader "github.com/paisatrail/paisatrail/pkg/reader/gmail"
)

func main() {
	user := flag.String("user", "", "mailbox to read (email address)")
	query := flag.String("query", "from:alerts@hdfcbank.net", "Gmail search query")
	limit := flag.Int64("limit", 10, "maximum messages to dump")
	outDir := flag.String("out", "pkg/extract/testdata/dump", "output directory")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.Setup(logging.DefaultConfig())

	if *user == "" {
		logger.Error("-user is required")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := dump(context.Background(), cfg, *user, *query, *limit, *outDir, logger); err != nil {
		logger.Error("dump failed", "error", err)
		os.Exit(1)
	}
}

func dump(ctx context.Context, cfg *config.Config, user, query string, limit int64, outDir string, logger *slog.Logger) error {
	httpClient, err := client.New(cfg.ClientSecretFile, cfg.TokenDir, user, gmailapi.GmailReadonlyScope)
	if err != nil {
		return err
	}

	source, err := gmailreader.New(httpClient, logger.With("component", "gmail_source"))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	messages := make(chan *api.RawMessage, 16)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- source.Fetch(ctx, api.Query{Raw: query, MaxResults: limit}, messages)
	}()

	count := 0
	for msg := range messages {
		count++
		path := filepath.Join(outDir, fmt.Sprintf("message_%03d.json", count))
		if err := writeFixture(path, msg, count); err != nil {
			logger.Warn("failed to write fixture", "path", path, "error", err)
		}
	}
	if err := <-fetchDone; err != nil {
		return err
	}

	logger.Info("dump complete", "count", count, "directory", outDir)
	return nil
}

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// writeFixture scrubs identifying fields and writes one fixture. The id is
// replaced with a stable synthetic one; addressee emails in the To header
// and body are masked. Sender and subject stay, the extractor depends on
// them.
func writeFixture(path string, msg *api.RawMessage, n int) error {
	fixture := *msg
	fixture.ID = fmt.Sprintf("fixture-%03d", n)
	fixture.ThreadID = ""
	fixture.To = emailRe.ReplaceAllString(fixture.To, "user@example.com")
	fixture.BodyText = emailRe.ReplaceAllStringFunc(fixture.BodyText, maskNonBankAddress)

	data, err := json.MarshalIndent(&fixture, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// maskNonBankAddress keeps UPI-handle-looking strings and bank senders, which
// the name extractor feeds on, and masks everything else.
var keepDomainRe = regexp.MustCompile(`(?i)@(ok[a-z]+|ybl|paytm|upi|[a-z]*bank[a-z]*)\b`)

func maskNonBankAddress(addr string) string {
	if keepDomainRe.MatchString(addr) {
		return addr
	}
	return "user@example.com"
}
