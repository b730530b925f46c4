package store

import (
	"context"
	"strings"
	"testing"
	"time"
)

func testRecord(id string) Record {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return Record{
		AgentTaskID: id,
		TaskID:      "research",
		WorkerType:  "shell",
		Description: "gather background material",
		Status:      "completed",
		Output:      "done\n",
		ExitCode:    0,
		StartedAt:   start,
		EndedAt:     start.Add(3 * time.Second),
	}
}

func TestSaveAndGetRecord(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	defer s.Close()

	rec := testRecord("agent-abc123")
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	got, err := s.GetRecord(ctx, "agent-abc123")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.WorkerType != "shell" || got.TaskID != "research" || got.ExitCode != 0 {
		t.Errorf("GetRecord() = %+v, want fields from saved record", got)
	}
	if !got.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, rec.StartedAt)
	}
}

func TestUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	defer s.Close()

	rec := testRecord("agent-dup")
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	rec.Status = "failed"
	rec.ExitCode = 2
	rec.Output = "boom\n"
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord() (second) error = %v", err)
	}

	got, err := s.GetRecord(ctx, "agent-dup")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Status != "failed" || got.ExitCode != 2 {
		t.Errorf("after upsert: status = %q exit = %d, want failed/2", got.Status, got.ExitCode)
	}
}

func TestListRecordsOrdered(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	defer s.Close()

	first := testRecord("agent-first")
	second := testRecord("agent-second")
	second.StartedAt = first.StartedAt.Add(5 * time.Minute)
	second.EndedAt = second.StartedAt.Add(time.Second)

	// Insert out of order; listing sorts by start time.
	if err := s.SaveRecord(ctx, second); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}
	if err := s.SaveRecord(ctx, first); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	records, err := s.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListRecords() returned %d records, want 2", len(records))
	}
	if records[0].AgentTaskID != "agent-first" || records[1].AgentTaskID != "agent-second" {
		t.Errorf("order = [%s, %s], want [agent-first, agent-second]", records[0].AgentTaskID, records[1].AgentTaskID)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	defer s.Close()

	_, err = s.GetRecord(ctx, "agent-missing")
	if err == nil {
		t.Fatal("GetRecord() error = nil, want not-found error")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("GetRecord() error = %v, want not-found message", err)
	}
}
