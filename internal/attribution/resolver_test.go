package attribution

import (
	"context"
	"math"
	"testing"
	"time"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"github.com/smallbiznis/aimeter/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupResolverDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	ddl := []string{
		`CREATE TABLE ai_query_log (query_id TEXT PRIMARY KEY, user_name TEXT, started_at DATETIME)`,
		`CREATE TABLE user_directory (user_name TEXT PRIMARY KEY, canonical_name TEXT)`,
	}
	for _, stmt := range ddl {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return conn
}

func ts(h int) time.Time {
	return time.Date(2024, 3, 5, h, 0, 0, 0, time.UTC)
}

func TestResolveDirectIdentity(t *testing.T) {
	conn := setupResolverDB(t)
	r := NewResolver(conn, zap.NewNop())

	records := []usagedomain.Record{
		{ServiceType: usagedomain.ServiceFunctions, OccurredAt: ts(9), Credits: 1.5, Operations: 100, UserKey: "ALICE", FeatureName: "summarize"},
		{ServiceType: usagedomain.ServiceFunctions, OccurredAt: ts(14), Credits: 0.5, Operations: 50, UserKey: "ALICE", FeatureName: "summarize"},
		{ServiceType: usagedomain.ServiceFunctions, OccurredAt: ts(10), Credits: 2.0, Operations: 80, UserKey: "BOB", FeatureName: "summarize"},
	}

	res, err := r.Resolve(context.Background(), records)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}

	// Multiple events for the same user and day sum, not count.
	alice := res.Rows[0]
	if alice.UserKey != "ALICE" {
		alice = res.Rows[1]
	}
	if alice.Credits != 2.0 || alice.Operations != 150 {
		t.Fatalf("unexpected alice row: %+v", alice)
	}
}

func TestResolveQueryLogJoin(t *testing.T) {
	conn := setupResolverDB(t)
	if err := conn.Exec(`INSERT INTO ai_query_log (query_id, user_name) VALUES ('q-1', 'CAROL'), ('q-2', 'CAROL')`).Error; err != nil {
		t.Fatalf("seed query log: %v", err)
	}
	r := NewResolver(conn, zap.NewNop())

	records := []usagedomain.Record{
		{ServiceType: usagedomain.ServiceAnalyst, OccurredAt: ts(9), Credits: 1.0, Operations: 3, QueryRef: "q-1"},
		{ServiceType: usagedomain.ServiceAnalyst, OccurredAt: ts(11), Credits: 2.0, Operations: 5, QueryRef: "q-2"},
		{ServiceType: usagedomain.ServiceAnalyst, OccurredAt: ts(12), Credits: 4.0, Operations: 1, QueryRef: "q-unknown"},
	}

	res, err := r.Resolve(context.Background(), records)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if res.Rows[0].UserKey != "CAROL" || res.Rows[0].Credits != 3.0 {
		t.Fatalf("unexpected row: %+v", res.Rows[0])
	}
	if res.UnmatchedQueries != 1 || res.UnmatchedCredits != 4.0 {
		t.Fatalf("unexpected unmatched accounting: %+v", res)
	}
}

func TestResolveAggregateOnlyIsExplicitZero(t *testing.T) {
	conn := setupResolverDB(t)
	r := NewResolver(conn, zap.NewNop())

	records := []usagedomain.Record{
		{ServiceType: usagedomain.ServiceSearch, OccurredAt: ts(8), Credits: 7.5, Operations: 40},
	}

	res, err := r.Resolve(context.Background(), records)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Fatalf("expected no attributed rows, got %d", len(res.Rows))
	}
	if res.UnattributedCredits != 7.5 {
		t.Fatalf("expected 7.5 unattributed credits, got %v", res.UnattributedCredits)
	}
}

func TestResolveCanonicalizesThroughDirectory(t *testing.T) {
	conn := setupResolverDB(t)
	if err := conn.Exec(`INSERT INTO user_directory (user_name, canonical_name) VALUES ('alice@corp', 'ALICE'), ('ALICE', 'ALICE')`).Error; err != nil {
		t.Fatalf("seed directory: %v", err)
	}
	r := NewResolver(conn, zap.NewNop())

	records := []usagedomain.Record{
		{ServiceType: usagedomain.ServiceFunctions, OccurredAt: ts(9), Credits: 1.0, Operations: 10, UserKey: "alice@corp"},
		{ServiceType: usagedomain.ServiceFunctions, OccurredAt: ts(10), Credits: 2.0, Operations: 20, UserKey: "ALICE"},
	}

	res, err := r.Resolve(context.Background(), records)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected spellings to merge into one row, got %d", len(res.Rows))
	}
	if res.Rows[0].UserKey != "ALICE" || res.Rows[0].Credits != 3.0 || res.Rows[0].Operations != 30 {
		t.Fatalf("unexpected merged row: %+v", res.Rows[0])
	}
}

func TestAttributionCompleteness(t *testing.T) {
	conn := setupResolverDB(t)
	r := NewResolver(conn, zap.NewNop())

	records := []usagedomain.Record{
		{ServiceType: usagedomain.ServiceFunctions, OccurredAt: ts(9), Credits: 0.1, Operations: 1, UserKey: "U1"},
		{ServiceType: usagedomain.ServiceFunctions, OccurredAt: ts(10), Credits: 0.2, Operations: 2, UserKey: "U2"},
		{ServiceType: usagedomain.ServiceFunctions, OccurredAt: ts(11), Credits: 0.3, Operations: 3, UserKey: "U1"},
		{ServiceType: usagedomain.ServiceDocProcessing, OccurredAt: ts(12), Credits: 1.7, Operations: 12, UserKey: "U3"},
	}

	res, err := r.Resolve(context.Background(), records)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var attributed, total float64
	for _, row := range res.Rows {
		attributed += row.Credits
	}
	for _, rec := range records {
		total += rec.Credits
	}
	if math.Abs(attributed-total) > 1e-6 {
		t.Fatalf("attributed %v does not match total %v", attributed, total)
	}
}

func TestSummaries(t *testing.T) {
	rows := []Row{
		{UsageDate: ts(0), UserKey: "A", ServiceType: usagedomain.ServiceFunctions, FeatureName: "summarize", Credits: 3, Operations: 30},
		{UsageDate: ts(0).AddDate(0, 0, 1), UserKey: "A", ServiceType: usagedomain.ServiceDocProcessing, FeatureName: "invoices", Credits: 2, Operations: 4},
		{UsageDate: ts(0), UserKey: "B", ServiceType: usagedomain.ServiceFunctions, FeatureName: "summarize", Credits: 1, Operations: 10},
	}

	users := SummarizeByUser(rows)
	if len(users) != 2 {
		t.Fatalf("expected 2 user summaries, got %d", len(users))
	}
	if users[0].UserKey != "A" || users[0].Credits != 5 || users[0].ActiveDays != 2 || len(users[0].Services) != 2 {
		t.Fatalf("unexpected top summary: %+v", users[0])
	}

	features := SummarizeByUserFeature(rows)
	if len(features) != 3 {
		t.Fatalf("expected 3 feature summaries, got %d", len(features))
	}
	if features[0].UserKey != "A" || features[0].FeatureName != "summarize" || features[0].Credits != 3 {
		t.Fatalf("unexpected top feature summary: %+v", features[0])
	}
}
