package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/rs/zerolog"
)

// Source resolves the provider range document the classifier is built
// from. The live endpoint is authoritative; the fallback file is a
// last-known-good copy kept on disk for when the endpoint is down.
type Source interface {
	Load(ctx context.Context) (*domain.RangeDocument, error)
}

type rangeSource struct {
	client       *http.Client
	url          string
	fallbackPath string
}

func NewSource(client *http.Client, url, fallbackPath string) Source {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &rangeSource{
		client:       client,
		url:          url,
		fallbackPath: fallbackPath,
	}
}

// Load tries the live endpoint first and falls back to the on-disk
// copy. Failing both is fatal for the caller: without a range table
// every byte would be billed at the public internet tier.
func (s *rangeSource) Load(ctx context.Context) (*domain.RangeDocument, error) {
	logger := zerolog.Ctx(ctx)

	doc, fetchErr := s.fetch(ctx)
	if fetchErr == nil {
		logger.Info().
			Str("url", s.url).
			Str("sync_token", doc.SyncToken).
			Int("prefixes", len(doc.Prefixes)).
			Msg("loaded address ranges")
		return doc, nil
	}
	logger.Warn().
		Err(fetchErr).
		Str("url", s.url).
		Str("fallback", s.fallbackPath).
		Msg("live address range fetch failed, trying fallback file")

	doc, fileErr := s.readFallback()
	if fileErr != nil {
		return nil, fmt.Errorf("address ranges unavailable (fetch: %v): %w", fetchErr, fileErr)
	}

	logger.Info().
		Str("path", s.fallbackPath).
		Int("prefixes", len(doc.Prefixes)).
		Msg("loaded address ranges from fallback file")
	return doc, nil
}

func (s *rangeSource) fetch(ctx context.Context) (*domain.RangeDocument, error) {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 30 * time.Second
	bkoff := backoff.WithContext(eb, ctx)

	var doc *domain.RangeDocument
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}

		var d domain.RangeDocument
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return fmt.Errorf("failed to decode range document: %w", err)
		}
		doc = &d
		return nil
	}, bkoff)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *rangeSource) readFallback() (*domain.RangeDocument, error) {
	if s.fallbackPath == "" {
		return nil, fmt.Errorf("no fallback file configured")
	}

	raw, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback file: %w", err)
	}

	var doc domain.RangeDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse fallback file: %w", err)
	}
	return &doc, nil
}
