package mail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mailmirror/core/domain"
	"mailmirror/core/port/out"

	"golang.org/x/oauth2"
)

// =============================================================================
// Provider
// =============================================================================

type fakeProvider struct {
	mu          sync.Mutex
	labels      map[string][]string
	recent      []string
	failGet     map[string]bool
	listErr     map[string]error
	listCalls   []out.ProviderListOptions
	attachments map[string][]byte
	getDelay    time.Duration
	// pageCap limits ids per list page below the requested size, as Gmail does.
	pageCap int
	// subjectSuffix is appended to every fetched subject.
	subjectSuffix string
	onList        func(label string)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		labels:      map[string][]string{},
		failGet:     map[string]bool{},
		listErr:     map[string]error{},
		attachments: map[string][]byte{},
	}
}

func messageIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%03d", prefix, i)
	}
	return ids
}

func (p *fakeProvider) ListMessages(ctx context.Context, token *oauth2.Token, opts *out.ProviderListOptions) (*out.ProviderListResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls = append(p.listCalls, *opts)
	if p.onList != nil {
		p.onList(opts.LabelID)
	}

	if err := p.listErr[opts.LabelID]; err != nil {
		return nil, err
	}

	ids := p.labels[opts.LabelID]
	if opts.Query != "" {
		ids = p.recent
	}

	offset := 0
	if opts.PageToken != "" {
		offset, _ = strconv.Atoi(opts.PageToken)
	}
	size := int(opts.PageSize)
	if p.pageCap > 0 && size > p.pageCap {
		size = p.pageCap
	}
	end := offset + size
	if end > len(ids) {
		end = len(ids)
	}
	if offset > end {
		offset = end
	}

	res := &out.ProviderListResult{MessageIDs: append([]string(nil), ids[offset:end]...)}
	if end < len(ids) {
		res.NextPageToken = strconv.Itoa(end)
	}
	return res, nil
}

func (p *fakeProvider) GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*domain.RawMessage, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if p.getDelay > 0 {
		time.Sleep(p.getDelay)
	}

	p.mu.Lock()
	fail := p.failGet[messageID]
	suffix := p.subjectSuffix
	p.mu.Unlock()
	if fail {
		return nil, out.NewProviderError("google", out.ProviderErrServer, "backend error", nil, true)
	}

	return &domain.RawMessage{
		ID:       messageID,
		ThreadID: "thread-" + messageID,
		LabelIDs: []string{domain.LabelInbox, domain.LabelUnread},
		Payload: &domain.MessagePart{
			MimeType: "text/plain",
			Headers: []domain.MessageHeader{
				{Name: "Subject", Value: "Message " + messageID + suffix},
				{Name: "From", Value: "Sender <sender@example.com>"},
			},
			Body: domain.PartBody{Data: b64url("body of " + messageID)},
		},
	}, nil
}

func (p *fakeProvider) GetAttachment(ctx context.Context, token *oauth2.Token, messageID, attachmentID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, out.NewProviderError("google", out.ProviderErrNotFound, "attachment not found", nil, false)
	}
	return data, nil
}

func (p *fakeProvider) calls() []out.ProviderListOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]out.ProviderListOptions(nil), p.listCalls...)
}

// =============================================================================
// Repositories
// =============================================================================

type fakeEmailRepo struct {
	mu      sync.Mutex
	emails  map[string]*domain.Email
	upserts int
	failFor map[string]bool
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{emails: map[string]*domain.Email{}, failFor: map[string]bool{}}
}

func (r *fakeEmailRepo) Upsert(ctx context.Context, email *domain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[email.MessageID] {
		return errors.New("write failed")
	}
	copied := *email
	r.emails[email.ID] = &copied
	r.upserts++
	return nil
}

func (r *fakeEmailRepo) Get(ctx context.Context, accountID, messageID string) (*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email, ok := r.emails[domain.EmailID(accountID, messageID)]
	if !ok {
		return nil, out.ErrNotFound
	}
	copied := *email
	return &copied, nil
}

func (r *fakeEmailRepo) List(ctx context.Context, filter *domain.EmailFilter) (*domain.EmailPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*domain.Email
	for _, e := range r.emails {
		if e.AccountID != filter.AccountID {
			continue
		}
		switch filter.Type {
		case domain.ListUnread:
			if e.IsRead {
				continue
			}
		case domain.ListStarred:
			if !e.IsStarred {
				continue
			}
		default:
			if label := filter.Type.Label(); label != "" && !e.HasLabel(label) {
				continue
			}
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Date.After(matched[j].Date) })

	page := &domain.EmailPage{Total: len(matched)}
	if filter.Offset < len(matched) {
		end := filter.Offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Emails = matched[filter.Offset:end]
	}
	return page, nil
}

func (r *fakeEmailRepo) MarkRead(ctx context.Context, accountID, messageID string) (*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email, ok := r.emails[domain.EmailID(accountID, messageID)]
	if !ok {
		return nil, out.ErrNotFound
	}
	email.IsRead = true
	copied := *email
	return &copied, nil
}

func (r *fakeEmailRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emails)
}

type fakeStatusRepo struct {
	mu          sync.Mutex
	records     map[string]*domain.SyncStatus
	checkpoints []int
	claims      int
	now         func() time.Time

	// active counts runs holding an adopted lease.
	active    int
	maxActive int
}

func newFakeStatusRepo() *fakeStatusRepo {
	return &fakeStatusRepo{records: map[string]*domain.SyncStatus{}, now: time.Now}
}

func (r *fakeStatusRepo) record(accountID string) *domain.SyncStatus {
	st, ok := r.records[accountID]
	if !ok {
		st = &domain.SyncStatus{AccountID: accountID}
		r.records[accountID] = st
	}
	return st
}

func (r *fakeStatusRepo) Get(ctx context.Context, accountID string) (*domain.SyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.records[accountID]
	if !ok {
		return nil, out.ErrNotFound
	}
	copied := *st
	return &copied, nil
}

func (r *fakeStatusRepo) Claim(ctx context.Context, accountID, leaseID string, leaseTimeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.record(accountID)
	now := r.now()
	if st.InProgress && st.StartedAt != nil && st.StartedAt.After(now.Add(-leaseTimeout)) {
		return false, nil
	}
	st.InProgress = true
	st.StartedAt = &now
	st.LeaseID = &leaseID
	st.LastError = nil
	r.claims++
	return true, nil
}

func (r *fakeStatusRepo) Adopt(ctx context.Context, accountID, ticket, leaseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.record(accountID)
	if !st.InProgress || !r.holds(st, ticket) {
		return false, nil
	}
	st.LeaseID = &leaseID
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	return true, nil
}

func (r *fakeStatusRepo) holds(st *domain.SyncStatus, leaseID string) bool {
	return st.LeaseID != nil && *st.LeaseID == leaseID
}

func (r *fakeStatusRepo) Checkpoint(ctx context.Context, accountID, leaseID string, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.record(accountID)
	if !r.holds(st, leaseID) {
		return out.ErrLeaseLost
	}
	st.TotalSynced = total
	r.checkpoints = append(r.checkpoints, total)
	return nil
}

func (r *fakeStatusRepo) Complete(ctx context.Context, accountID, leaseID string, total int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.record(accountID)
	if !r.holds(st, leaseID) {
		return out.ErrLeaseLost
	}
	st.InProgress = false
	st.LeaseID = nil
	r.active--
	st.TotalSynced = total
	st.LastSyncAt = &at
	return nil
}

func (r *fakeStatusRepo) Fail(ctx context.Context, accountID, leaseID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.record(accountID)
	if !r.holds(st, leaseID) {
		return out.ErrLeaseLost
	}
	st.InProgress = false
	st.LeaseID = nil
	if r.active > 0 {
		r.active--
	}
	st.LastError = &message
	return nil
}

func (r *fakeStatusRepo) RecordError(ctx context.Context, accountID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(accountID).LastError = &message
	return nil
}

func (r *fakeStatusRepo) TouchLastSync(ctx context.Context, accountID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(accountID).LastSyncAt = &at
	return nil
}

func (r *fakeStatusRepo) snapshot(accountID string) domain.SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.record(accountID)
}

// =============================================================================
// Credentials and jobs
// =============================================================================

type fakeTokens struct {
	err   error
	calls atomic.Int32
}

func (f *fakeTokens) Token(ctx context.Context, accountID string) (*oauth2.Token, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "access-" + accountID}, nil
}

func (f *fakeTokens) IsConnected(ctx context.Context, accountID string) (bool, error) {
	return accountID != "disconnected", nil
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []*out.SyncJob
	err  error
}

func (f *fakePublisher) PublishSync(ctx context.Context, job *out.SyncJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}
