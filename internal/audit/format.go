package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audit: %s–%s UTC\n",
		formatDateRange(result.Summary.FirstTimestamp),
		formatTimeOnly(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		detail := e.Subject
		if detail == "" {
			detail = e.Method
		}
		if e.Kind != "" {
			detail = e.Kind + " " + detail
		}
		fmt.Fprintf(&b, "%-10s %-10s %-20s %-8s %s\n",
			formatTimeOnly(e.Timestamp),
			strings.ToUpper(string(e.Event)),
			truncate(e.Module.Name, 20),
			shortToken(e.Token),
			truncate(strings.TrimSpace(detail), 48))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	counts := []struct {
		n     int
		label string
	}{
		{s.Rewritten, "rewritten"},
		{s.Rejected, "rejected"},
		{s.Completed, "completed"},
		{s.Violated, "violated"},
		{s.Failed, "failed"},
	}
	var parts []string
	for _, c := range counts {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}
	return fmt.Sprintf("Summary: %d entries | %s\n", s.Total, strings.Join(parts, ", "))
}

func shortToken(t string) string {
	if len(t) > 8 {
		return t[:8]
	}
	return t
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
