package task

import (
	"database/sql"
	"reflect"
	"strings"
	"testing"
)

type fakeRow struct {
	values []any
}

func (f fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(f.values[i]))
	}
	return nil
}

func TestBuildFilterClause(t *testing.T) {
	clause, args := buildFilterClause(ListOptions{})
	if clause != "" || args != nil {
		t.Fatalf("expected empty clause, got %q %v", clause, args)
	}

	hasResult := true
	clause, args = buildFilterClause(ListOptions{
		Statuses:   []Status{StatusFailed, StatusSucceeded},
		UpdatedGTE: 10,
		HasResult:  &hasResult,
		Query:      "sol",
	})
	want := "status IN (?,?) AND updated_at >= ? AND result IS NOT NULL AND (id LIKE ?"
	if !strings.HasPrefix(clause, want) {
		t.Fatalf("unexpected clause: %s", clause)
	}
	if len(args) != 2+1+6 {
		t.Fatalf("unexpected arg count %d", len(args))
	}
	if args[len(args)-1] != "%sol%" {
		t.Fatalf("unexpected like pattern %v", args[len(args)-1])
	}

	dryRun, timedOut := false, true
	clause, args = buildFilterClause(ListOptions{DryRun: &dryRun, TimedOut: &timedOut, Agent: "agent-addr"})
	if clause != "dry_run = ? AND timed_out = ? AND agent = ?" {
		t.Fatalf("unexpected domain clause: %s", clause)
	}
	if len(args) != 3 || args[0] != false || args[1] != true || args[2] != "agent-addr" {
		t.Fatalf("unexpected domain args %v", args)
	}
}

func TestScanTaskDecodesResult(t *testing.T) {
	row := fakeRow{values: []any{
		"q-1",
		sql.NullString{String: "be brief", Valid: true},
		"price of SOL?",
		false,
		"",
		sql.NullString{String: `{"source":"cli"}`, Valid: true},
		StatusSucceeded,
		1,
		3,
		sql.NullString{},
		"",
		sql.NullString{String: `{"addresses":{},"response":"150 USD","timed_out":false,"dry_run":false}`, Valid: true},
		int64(100),
		int64(200),
	}}
	task, err := scanTask(row)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if task.SystemPrompt != "be brief" || task.Metadata["source"] != "cli" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Result == nil || task.Result.Response != "150 USD" {
		t.Fatalf("unexpected result: %+v", task.Result)
	}

	row.values[11] = sql.NullString{}
	task, err = scanTask(row)
	if err != nil {
		t.Fatalf("scan without result: %v", err)
	}
	if task.Result != nil {
		t.Fatalf("expected nil result")
	}
}
