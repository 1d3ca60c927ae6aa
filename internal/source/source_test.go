package source

import (
	"context"
	"testing"
	"time"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"github.com/smallbiznis/aimeter/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupSourceDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	ddl := []string{
		`CREATE TABLE ai_function_usage (user_name TEXT, function_name TEXT, model_name TEXT, tokens INTEGER, credits_used REAL, occurred_at DATETIME)`,
		`CREATE TABLE ai_search_usage (service_name TEXT, usage_hour DATETIME, request_count INTEGER, credits_used REAL)`,
		`CREATE TABLE ai_analyst_usage (query_id TEXT, semantic_model TEXT, message_count INTEGER, credits_used REAL, occurred_at DATETIME)`,
		`CREATE TABLE doc_processing_usage (user_name TEXT, build_name TEXT, page_count INTEGER, credits_used REAL, occurred_at DATETIME)`,
	}
	for _, stmt := range ddl {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return conn
}

func testWindow() usagedomain.Window {
	return usagedomain.Window{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestFunctionsAdapterMapsTokensToOperations(t *testing.T) {
	conn := setupSourceDB(t)
	if err := conn.Exec(
		`INSERT INTO ai_function_usage (user_name, function_name, model_name, tokens, credits_used, occurred_at)
		 VALUES (' ALICE ', 'summarize', 'large', 1200, 0.6, ?)`,
		time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	records, err := NewFunctionsAdapter(conn, zap.NewNop()).Fetch(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.ServiceType != usagedomain.ServiceFunctions {
		t.Fatalf("unexpected service type %s", rec.ServiceType)
	}
	if rec.Operations != 1200 {
		t.Fatalf("expected operations from tokens, got %d", rec.Operations)
	}
	if rec.UserKey != "ALICE" {
		t.Fatalf("expected trimmed user key, got %q", rec.UserKey)
	}
	if rec.FeatureName != "summarize" || rec.ModelName != "large" {
		t.Fatalf("unexpected feature/model: %q/%q", rec.FeatureName, rec.ModelName)
	}
}

func TestSearchAdapterHasNoIdentity(t *testing.T) {
	conn := setupSourceDB(t)
	if err := conn.Exec(
		`INSERT INTO ai_search_usage (service_name, usage_hour, request_count, credits_used)
		 VALUES ('catalog-search', ?, 40, 1.2)`,
		time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
	).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	records, err := NewSearchAdapter(conn, zap.NewNop()).Fetch(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.UserKey != "" || rec.QueryRef != "" {
		t.Fatalf("search records must carry no identity, got %q/%q", rec.UserKey, rec.QueryRef)
	}
	if rec.Operations != 40 {
		t.Fatalf("expected operations from request_count, got %d", rec.Operations)
	}
}

func TestAnalystAdapterCarriesQueryRef(t *testing.T) {
	conn := setupSourceDB(t)
	if err := conn.Exec(
		`INSERT INTO ai_analyst_usage (query_id, semantic_model, message_count, credits_used, occurred_at)
		 VALUES ('q-77', 'finance', 6, 0.9, ?)`,
		time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC),
	).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	records, err := NewAnalystAdapter(conn, zap.NewNop()).Fetch(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.QueryRef != "q-77" || rec.UserKey != "" {
		t.Fatalf("expected query ref only, got %q/%q", rec.QueryRef, rec.UserKey)
	}
	if rec.Operations != 6 {
		t.Fatalf("expected operations from message_count, got %d", rec.Operations)
	}
}

func TestDocProcessingAdapterMapsPages(t *testing.T) {
	conn := setupSourceDB(t)
	if err := conn.Exec(
		`INSERT INTO doc_processing_usage (user_name, build_name, page_count, credits_used, occurred_at)
		 VALUES ('BOB', 'invoices', 12, 0.3, ?)`,
		time.Date(2024, 3, 7, 8, 0, 0, 0, time.UTC),
	).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	records, err := NewDocProcessingAdapter(conn, zap.NewNop()).Fetch(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Operations != 12 || records[0].UserKey != "BOB" {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}

func TestAdaptersRespectWindowBounds(t *testing.T) {
	conn := setupSourceDB(t)
	inside := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	before := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	atEnd := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{inside, before, atEnd} {
		if err := conn.Exec(
			`INSERT INTO ai_function_usage (user_name, function_name, model_name, tokens, credits_used, occurred_at)
			 VALUES ('A', 'f', 'm', 1, 0.1, ?)`,
			ts,
		).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	records, err := NewFunctionsAdapter(conn, zap.NewNop()).Fetch(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected half-open window to keep 1 record, got %d", len(records))
	}
}

func TestAdapterErrorsOnMissingTable(t *testing.T) {
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	// The raw table does not exist, as when a source feature is not
	// enabled. The adapter reports the error; the pipeline fails closed.
	_, err = NewFunctionsAdapter(conn, zap.NewNop()).Fetch(context.Background(), testWindow())
	if err == nil {
		t.Fatal("expected error for missing source table")
	}
}
