package audit

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	base := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)
	demo := ModuleRef{Name: "demo", Hash: "sha256:aaa"}
	other := ModuleRef{Name: "other", Hash: "sha256:bbb"}

	entries := []AuditEntry{
		{Timestamp: base.Format(TimestampFormat), Token: "tok-a", Event: EventRewritten, Module: demo},
		{Timestamp: base.Add(2 * time.Second).Format(TimestampFormat), Event: EventRejected, Module: other, Kind: "denylisted", Subject: "System.GC::Collect"},
		{Timestamp: base.Add(4 * time.Second).Format(TimestampFormat), Token: "tok-a", Event: EventCompleted, Module: demo, Method: "Demo.Program::Main"},
		{Timestamp: base.Add(6 * time.Second).Format(TimestampFormat), Token: "tok-a", Event: EventViolated, Module: demo, Kind: "time", Reason: "time limit exceeded"},
		{Timestamp: base.Add(8 * time.Second).Format(TimestampFormat), Token: "tok-a", Event: EventFailed, Module: demo, Reason: "no binding"},
	}
	for _, e := range entries {
		if err := log.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestReplayFiltersByToken(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{Token: "tok-a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 4 {
		t.Fatalf("expected 4 entries for tok-a, got %d", len(result.Entries))
	}
	s := result.Summary
	if s.Rewritten != 1 || s.Completed != 1 || s.Violated != 1 || s.Failed != 1 || s.Rejected != 0 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestReplayFiltersByModuleNameOrHash(t *testing.T) {
	path := writeTestLog(t)

	byName, err := Replay(path, ReplayFilter{Module: "other"})
	if err != nil {
		t.Fatal(err)
	}
	byHash, err := Replay(path, ReplayFilter{Module: "sha256:bbb"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byName.Entries) != 1 || len(byHash.Entries) != 1 {
		t.Fatalf("expected one entry each, got %d and %d", len(byName.Entries), len(byHash.Entries))
	}
	if byName.Entries[0].Subject != "System.GC::Collect" {
		t.Errorf("unexpected subject %q", byName.Entries[0].Subject)
	}
}

func TestReplayFiltersByEvent(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{Events: []Event{EventViolated, EventFailed}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
}

func TestReplayTimeRange(t *testing.T) {
	path := writeTestLog(t)
	base := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)

	result, err := Replay(path, ReplayFilter{From: base.Add(3 * time.Second), To: base.Add(7 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries in range, got %d", len(result.Entries))
	}
	if result.Summary.FirstTimestamp != base.Add(4*time.Second).Format(TimestampFormat) {
		t.Errorf("unexpected first timestamp %s", result.Summary.FirstTimestamp)
	}
}

func TestReplayLastKeepsNewest(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{Last: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
	if result.Entries[1].Event != EventFailed {
		t.Errorf("expected newest entry last, got %s", result.Entries[1].Event)
	}
	if result.Summary.Total != 2 {
		t.Errorf("summary should count only kept entries, got %d", result.Summary.Total)
	}
}

func TestReplayMissingFile(t *testing.T) {
	if _, err := Replay(filepath.Join(t.TempDir(), "nope.jsonl"), ReplayFilter{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFormatTimeline(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)
	for _, want := range []string{
		"2025-01-15 14:00:00",
		"REJECTED",
		"denylisted System.GC::Collect",
		"Demo.Program::Main",
		"Summary: 5 entries | 1 rewritten, 1 rejected, 1 completed, 1 violated, 1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("timeline missing %q:\n%s", want, out)
		}
	}
}

func TestFormatTimelineEmpty(t *testing.T) {
	if out := FormatTimeline(&ReplayResult{}); out != "No entries found.\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFormatJSON(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{Token: "tok-a"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := FormatJSON(result)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"violated": 1`) {
		t.Errorf("expected violated count in JSON:\n%s", out)
	}
}
