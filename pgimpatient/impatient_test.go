package pgimpatient

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/arcwell/pgstash/internal/pgtest"
	"github.com/arcwell/pgstash/pgexec"
)

func TestExecInterruptsSlowStatement(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"count": "1000000"}}, Delay: 200 * time.Millisecond})

	imp := New(fake, 10*time.Millisecond, nil)
	_, err := imp.Exec(context.Background(), "SELECT COUNT(*) FROM generate_series(1,1000000)", nil, pgexec.FormatText)

	var tooSlow *pgexec.TooSlowError
	if !errors.As(err, &tooSlow) {
		t.Fatalf("expected TooSlowError, got %v", err)
	}
}

func TestExecAllowsExemptedSlowStatement(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"count": "1000000"}}, Delay: 30 * time.Millisecond})

	imp := New(fake, 10*time.Millisecond, []*regexp.Regexp{regexp.MustCompile(`(?i)^SELECT`)})
	rows, err := imp.Exec(context.Background(), "SELECT COUNT(*) FROM generate_series(1,1000000)", nil, pgexec.FormatText)
	if err != nil {
		t.Fatalf("unexpected error for exempted statement: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestExecUnderTimeoutSucceeds(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"num": "2"}}})

	imp := New(fake, time.Second, nil)
	rows, err := imp.Exec(context.Background(), "SELECT 2 AS num", nil, pgexec.FormatText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestOuterDeadlinePreemptsImpatient(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Delay: 100 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	imp := New(fake, time.Hour, nil)
	_, err := imp.Exec(ctx, "SELECT pg_sleep(1)", nil, pgexec.FormatText)

	var tooSlow *pgexec.TooSlowError
	if errors.As(err, &tooSlow) {
		t.Fatalf("expected the outer deadline's own error, got TooSlowError")
	}
	if err == nil {
		t.Fatal("expected an error from the preempting outer deadline")
	}
}

func TestTransactionSetsServerSideStatementTimeout(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{}) // SET LOCAL statement_timeout
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"n": "1"}}})

	imp := New(fake, 5*time.Second, nil)
	_, err := imp.Transaction(context.Background(), func(ctx context.Context, tx pgexec.Executor) (any, error) {
		return tx.Exec(ctx, "SELECT 1", nil, pgexec.FormatText)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fake.Calls) < 1 || fake.Calls[0].SQL != "SET LOCAL statement_timeout = 5000" {
		t.Fatalf("expected SET LOCAL statement_timeout as first call, got %+v", fake.Calls)
	}
}
