package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter selects entries from a log. Zero fields match everything.
type ReplayFilter struct {
	Token  string
	Module string // module name or hash
	Events []Event
	From   time.Time
	To     time.Time
	Last   int // keep only the newest Last matches
}

// ReplaySummary holds event counts for the selected entries.
type ReplaySummary struct {
	Total          int    `json:"total"`
	Rewritten      int    `json:"rewritten"`
	Rejected       int    `json:"rejected"`
	Completed      int    `json:"completed"`
	Violated       int    `json:"violated"`
	Failed         int    `json:"failed"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Entries []AuditEntry  `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

func (f ReplayFilter) match(e AuditEntry) bool {
	if f.Token != "" && e.Token != f.Token {
		return false
	}
	if f.Module != "" && e.Module.Name != f.Module && e.Module.Hash != f.Module {
		return false
	}
	if len(f.Events) > 0 {
		found := false
		for _, ev := range f.Events {
			if ev == e.Event {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, e.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

// Replay reads the audit log and returns entries matching the filter.
// Malformed lines are skipped; use Verify to detect them.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := newScanner(f)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if filter.match(entry) {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Last > 0 && len(entries) > filter.Last {
		entries = entries[len(entries)-filter.Last:]
	}
	result := &ReplayResult{Entries: entries}
	for _, e := range entries {
		updateSummary(&result.Summary, e)
	}
	return result, nil
}

func updateSummary(s *ReplaySummary, entry AuditEntry) {
	s.Total++

	switch entry.Event {
	case EventRewritten:
		s.Rewritten++
	case EventRejected:
		s.Rejected++
	case EventCompleted:
		s.Completed++
	case EventViolated:
		s.Violated++
	case EventFailed:
		s.Failed++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
