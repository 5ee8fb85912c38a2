package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Policy diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)

	sections := []struct {
		level Level
		title string
	}{
		{LevelNamespace, "Namespaces"},
		{LevelType, "Types"},
		{LevelMember, "Members"},
	}
	for _, s := range sections {
		changes := filterLevel(r.Changes, s.level)
		if len(changes) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n  %s:\n", s.title)
		for _, c := range changes {
			switch c.Type {
			case "added":
				fmt.Fprintf(&b, "    + %s (%s)", c.Path, c.New)
			case "removed":
				fmt.Fprintf(&b, "    - %s (was %s)", c.Path, c.Old)
			case "changed":
				fmt.Fprintf(&b, "    ~ %s: %s → %s", c.Path, c.Old, c.New)
			}
			if c.Comment != "" {
				fmt.Fprintf(&b, "  [%s]", c.Comment)
			}
			b.WriteString("\n")
		}
	}

	stricter, looser := 0, 0
	for _, c := range r.Changes {
		switch c.Comment {
		case "stricter":
			stricter++
		case "looser":
			looser++
		}
	}
	fmt.Fprintf(&b, "\n%d changes: %d stricter, %d looser\n", len(r.Changes), stricter, looser)
	return b.String()
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

func filterLevel(changes []Change, level Level) []Change {
	var out []Change
	for _, c := range changes {
		if c.Level == level {
			out = append(out, c)
		}
	}
	return out
}
