package mail

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"mailmirror/core/port/out"
	"mailmirror/pkg/logger"
	"mailmirror/pkg/metrics"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// TokenProvider hands out a usable access token for an account.
type TokenProvider interface {
	Token(ctx context.Context, accountID string) (*oauth2.Token, error)
}

// ErrTokenUnavailable marks a run that could not obtain an access token.
var ErrTokenUnavailable = errors.New("access token unavailable")

// PageProgress is called after each page with the number of messages that
// page persisted.
type PageProgress func(persisted int)

// =============================================================================
// LabelPaginator
// =============================================================================

// LabelPaginator pages through one provider label and persists every message.
// Pages are sequential; messages within a page are fetched concurrently.
type LabelPaginator struct {
	provider    out.MailProvider
	emails      out.EmailRepository
	tokens      TokenProvider
	normalizer  *Normalizer
	limiter     *rate.Limiter
	concurrency int
}

// PaginatorConfig bounds the provider load of one sync run.
type PaginatorConfig struct {
	PageConcurrency int
	// ProviderQPS caps message fetches per second across all runs; zero disables.
	ProviderQPS float64
}

func NewLabelPaginator(provider out.MailProvider, emails out.EmailRepository, tokens TokenProvider, normalizer *Normalizer, cfg PaginatorConfig) *LabelPaginator {
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 10
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.ProviderQPS > 0 {
		burst := int(cfg.ProviderQPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ProviderQPS), burst)
	}
	return &LabelPaginator{
		provider:    provider,
		emails:      emails,
		tokens:      tokens,
		normalizer:  normalizer,
		limiter:     limiter,
		concurrency: cfg.PageConcurrency,
	}
}

// FetchLabel persists up to maxCount messages of a label and returns how many
// succeeded. Per-message failures are logged and skipped. A list failure
// stops the label and is returned together with the count reached so far.
func (p *LabelPaginator) FetchLabel(ctx context.Context, accountID, label string, maxCount int, progress PageProgress) (int, error) {
	synced := 0
	pageToken := ""

	for synced < maxCount {
		remaining := maxCount - synced
		pageSize := remaining
		if pageSize > out.ProviderMaxPageSize {
			pageSize = out.ProviderMaxPageSize
		}

		token, err := p.tokens.Token(ctx, accountID)
		if err != nil {
			return synced, fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
		}

		page, err := p.provider.ListMessages(ctx, token, &out.ProviderListOptions{
			LabelID:   label,
			PageSize:  int64(pageSize),
			PageToken: pageToken,
		})
		if err != nil {
			return synced, fmt.Errorf("list %s: %w", label, err)
		}
		if len(page.MessageIDs) == 0 {
			break
		}

		ids := page.MessageIDs
		if len(ids) > remaining {
			ids = ids[:remaining]
		}

		persisted := p.processPage(ctx, token, accountID, label, ids)
		synced += persisted
		if progress != nil {
			progress(persisted)
		}

		logger.Debug("[LabelPaginator.FetchLabel] %s/%s page done: %d/%d persisted, %d total",
			accountID, label, persisted, len(ids), synced)

		// Short pages may still carry a cursor; only its absence ends the label.
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return synced, nil
}

// processPage fans out over one page and waits for every message.
func (p *LabelPaginator) processPage(ctx context.Context, token *oauth2.Token, accountID, label string, ids []string) int {
	var persisted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := p.SyncMessage(gctx, token, accountID, id); err != nil {
				logger.WithError(err).Warn("[LabelPaginator] Skipping message %s for %s", id, accountID)
				return nil
			}
			persisted.Add(1)
			metrics.IncrementMessagesSynced(label)
			return nil
		})
	}
	_ = g.Wait()

	return int(persisted.Load())
}

// SyncMessage fetches, normalizes and upserts one message.
func (p *LabelPaginator) SyncMessage(ctx context.Context, token *oauth2.Token, accountID, messageID string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	raw, err := p.provider.GetMessage(ctx, token, messageID)
	if err != nil {
		metrics.IncrementMessageFailure("fetch")
		return fmt.Errorf("fetch: %w", err)
	}

	email, err := p.normalizer.Normalize(accountID, raw)
	if err != nil {
		metrics.IncrementMessageFailure("normalize")
		return fmt.Errorf("normalize: %w", err)
	}

	if err := p.emails.Upsert(ctx, email); err != nil {
		metrics.IncrementMessageFailure("store")
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
