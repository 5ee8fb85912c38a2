package audit

// Event names the outcome an entry records.
type Event string

const (
	EventRewritten Event = "rewritten"
	EventRejected  Event = "rejected"
	EventCompleted Event = "completed"
	EventViolated  Event = "violated"
	EventFailed    Event = "failed"
)

// ModuleRef identifies the module an entry is about.
type ModuleRef struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// Usage is the guard consumption recorded for a run.
type Usage struct {
	StackBytes  int64 `json:"stack_bytes"`
	Allocations int64 `json:"allocations"`
	Jumps       int64 `json:"jumps"`
	ElapsedMS   int64 `json:"elapsed_ms"`
}

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are structs (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type AuditEntry struct {
	Timestamp  string    `json:"ts"`
	Token      string    `json:"token,omitempty"`
	Event      Event     `json:"event"`
	Module     ModuleRef `json:"module"`
	Method     string    `json:"method,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
	PolicyHash string    `json:"policy_hash"`
	PrevHash   string    `json:"prev_hash"`
}
