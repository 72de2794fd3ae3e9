package metrics

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSyncRun(t *testing.T) {
	before := testutil.ToFloat64(SyncRuns.WithLabelValues("full", "ok"))
	RecordSyncRun("full", "ok", 3*time.Second)
	RecordSyncRun("full", "ok", time.Second)

	if got := testutil.ToFloat64(SyncRuns.WithLabelValues("full", "ok")) - before; got != 2 {
		t.Errorf("sync runs delta = %v, want 2", got)
	}
}

func TestCounters(t *testing.T) {
	tests := []struct {
		name string
		inc  func()
		read func() float64
	}{
		{"messages synced", func() { IncrementMessagesSynced("INBOX") }, func() float64 { return testutil.ToFloat64(MessagesSynced.WithLabelValues("INBOX")) }},
		{"message failure", func() { IncrementMessageFailure("fetch") }, func() float64 { return testutil.ToFloat64(MessageFailures.WithLabelValues("fetch")) }},
		{"provider request", func() { IncrementProviderRequest("get", "ok") }, func() float64 { return testutil.ToFloat64(ProviderRequests.WithLabelValues("get", "ok")) }},
		{"job", func() { IncrementJob("mail.sync", "ok") }, func() float64 { return testutil.ToFloat64(Jobs.WithLabelValues("mail.sync", "ok")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.read()
			tt.inc()
			if got := tt.read() - before; got != 1 {
				t.Errorf("delta = %v, want 1", got)
			}
		})
	}
}

func TestRegisterSQLDBTwice(t *testing.T) {
	db, err := sql.Open("pgx", "postgres://localhost:1/none")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := RegisterSQLDB("test", db); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterSQLDB("test", db); err != nil {
		t.Errorf("second register: %v, want nil", err)
	}
}
