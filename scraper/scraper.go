// Package scraper handles fetching and parsing the specials menu page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// TransportError describes a single failed fetch attempt.
// StatusCode is zero when the request never produced a response.
type TransportError struct {
	Err        error
	URL        string
	StatusCode int
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExhaustedRetriesError is returned once every allowed attempt has failed.
type ExhaustedRetriesError struct {
	Err      error // Last attempt's failure
	URL      string
	Attempts uint
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("reached max request attempts (%d) for %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Err }

// ParseError indicates the menu page no longer has the expected structure.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "unable to parse specials menu: " + e.Reason
}

// IsFatal reports whether err should end the current run.
func IsFatal(err error) bool {
	var exhausted *ExhaustedRetriesError
	var parse *ParseError
	return errors.As(err, &exhausted) || errors.As(err, &parse)
}

// Fetcher retrieves raw menu documents with a fixed delay between attempts.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
	limit  *uint // nil or 0 retries indefinitely
	wait   time.Duration
}

// NewFetcher creates a new fetcher.
func NewFetcher(client *http.Client, logger *slog.Logger, limit *uint, wait time.Duration) *Fetcher {
	return &Fetcher{
		client: client,
		logger: logger,
		limit:  limit,
		wait:   wait,
	}
}

func (f *Fetcher) attempts() uint {
	if f.limit == nil {
		return 0
	}
	return *f.limit
}

// Fetch downloads pageURL, retrying transport failures and non-2xx responses.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	var body []byte
	var attempt uint

	err := retry.Do(
		func() error {
			attempt++
			var err error
			body, err = f.fetchOnce(ctx, pageURL)
			if err != nil {
				// Logged here rather than in OnRetry, which skips the last attempt.
				f.logger.Warn("Fetch attempt failed",
					"url", pageURL,
					"attempt", attempt,
					"limit", f.attempts(),
					"wait", f.wait.String(),
					"error", err)
			}
			return err
		},
		retry.Attempts(f.attempts()),
		retry.Delay(f.wait),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err == nil {
		return body, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, ctxErr)
	}

	return nil, &ExhaustedRetriesError{URL: pageURL, Attempts: attempt, Err: err}
}

func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	startTime := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return nil, &TransportError{URL: pageURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	f.logger.Debug("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: pageURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
