package mail

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailmirror/core/domain"
)

func newTestPaginator(provider *fakeProvider, emails *fakeEmailRepo, tokens *fakeTokens, concurrency int) *LabelPaginator {
	return NewLabelPaginator(provider, emails, tokens, NewNormalizer(), PaginatorConfig{PageConcurrency: concurrency})
}

func TestFetchLabelPaging(t *testing.T) {
	tests := []struct {
		name          string
		available     int
		pageCap       int
		maxCount      int
		wantSynced    int
		wantPageSizes []int64
	}{
		{name: "label smaller than cap stops early", available: 40, maxCount: 50, wantSynced: 40, wantPageSizes: []int64{50}},
		{name: "empty label", available: 0, maxCount: 500, wantSynced: 0, wantPageSizes: []int64{500}},
		{name: "cap reached on first page", available: 1200, maxCount: 500, wantSynced: 500, wantPageSizes: []int64{500}},
		{name: "second page asks only for the remainder", available: 1200, maxCount: 700, wantSynced: 700, wantPageSizes: []int64{500, 200}},
		{name: "exact multiple of page size", available: 1000, maxCount: 1000, wantSynced: 1000, wantPageSizes: []int64{500, 500}},
		{name: "short pages follow the cursor", available: 40, pageCap: 20, maxCount: 50, wantSynced: 40, wantPageSizes: []int64{50, 30}},
		{name: "short pages stop at the cap", available: 100, pageCap: 20, maxCount: 50, wantSynced: 50, wantPageSizes: []int64{50, 30, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider()
			provider.labels[domain.LabelInbox] = messageIDs("m", tt.available)
			provider.pageCap = tt.pageCap
			emails := newFakeEmailRepo()
			p := newTestPaginator(provider, emails, &fakeTokens{}, 10)

			var progressed int
			got, err := p.FetchLabel(context.Background(), "acct", domain.LabelInbox, tt.maxCount, func(n int) { progressed += n })
			if err != nil {
				t.Fatalf("FetchLabel() error = %v", err)
			}
			if got != tt.wantSynced {
				t.Errorf("synced = %d, want %d", got, tt.wantSynced)
			}
			if progressed != got {
				t.Errorf("progress total = %d, want %d", progressed, got)
			}
			if emails.count() != tt.wantSynced {
				t.Errorf("stored = %d, want %d", emails.count(), tt.wantSynced)
			}

			calls := provider.calls()
			if len(calls) != len(tt.wantPageSizes) {
				t.Fatalf("list calls = %d, want %d", len(calls), len(tt.wantPageSizes))
			}
			for i, c := range calls {
				if c.PageSize != tt.wantPageSizes[i] {
					t.Errorf("call %d page size = %d, want %d", i, c.PageSize, tt.wantPageSizes[i])
				}
				if c.LabelID != domain.LabelInbox {
					t.Errorf("call %d label = %q", i, c.LabelID)
				}
				if i > 0 && c.PageToken == "" {
					t.Errorf("call %d sent no page token", i)
				}
			}
		})
	}
}

func TestFetchLabelSkipsFailedMessages(t *testing.T) {
	provider := newFakeProvider()
	ids := messageIDs("m", 5)
	provider.labels[domain.LabelSent] = ids
	provider.failGet[ids[2]] = true
	emails := newFakeEmailRepo()
	emails.failFor[ids[4]] = true

	p := newTestPaginator(provider, emails, &fakeTokens{}, 10)
	got, err := p.FetchLabel(context.Background(), "acct", domain.LabelSent, 500, nil)
	if err != nil {
		t.Fatalf("FetchLabel() error = %v", err)
	}
	if got != 3 {
		t.Errorf("synced = %d, want 3", got)
	}
	if _, err := emails.Get(context.Background(), "acct", ids[2]); err == nil {
		t.Error("failed message should not be stored")
	}
}

func TestFetchLabelBoundsConcurrency(t *testing.T) {
	provider := newFakeProvider()
	provider.labels[domain.LabelInbox] = messageIDs("m", 30)
	provider.getDelay = 5 * time.Millisecond

	p := newTestPaginator(provider, newFakeEmailRepo(), &fakeTokens{}, 3)
	if _, err := p.FetchLabel(context.Background(), "acct", domain.LabelInbox, 500, nil); err != nil {
		t.Fatalf("FetchLabel() error = %v", err)
	}
	if got := provider.maxInFlight.Load(); got > 3 {
		t.Errorf("max concurrent fetches = %d, want <= 3", got)
	}
}

func TestFetchLabelErrors(t *testing.T) {
	t.Run("list failure is returned", func(t *testing.T) {
		provider := newFakeProvider()
		provider.listErr[domain.LabelSpam] = errors.New("503")
		p := newTestPaginator(provider, newFakeEmailRepo(), &fakeTokens{}, 10)

		got, err := p.FetchLabel(context.Background(), "acct", domain.LabelSpam, 500, nil)
		if err == nil {
			t.Fatal("FetchLabel() error = nil, want list error")
		}
		if errors.Is(err, ErrTokenUnavailable) {
			t.Error("list failure must not look like a token failure")
		}
		if got != 0 {
			t.Errorf("synced = %d, want 0", got)
		}
	})

	t.Run("token failure is marked", func(t *testing.T) {
		provider := newFakeProvider()
		p := newTestPaginator(provider, newFakeEmailRepo(), &fakeTokens{err: errors.New("revoked")}, 10)

		_, err := p.FetchLabel(context.Background(), "acct", domain.LabelInbox, 500, nil)
		if !errors.Is(err, ErrTokenUnavailable) {
			t.Fatalf("error = %v, want ErrTokenUnavailable", err)
		}
		if len(provider.calls()) != 0 {
			t.Error("provider must not be called without a token")
		}
	})
}
