package harness

// TraceEvent is one entry in a scenario's execution trace.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"` // "apply", "push", "remote", "discard"

	EntityID     string  `json:"entity_id,omitempty"`
	MutationID   int64   `json:"mutation_id,omitempty"`
	MutationType string  `json:"mutation_type,omitempty"`
	Mutations    []int64 `json:"mutations,omitempty"` // push: batch of queue row ids
	Outcome      string  `json:"outcome,omitempty"`   // push: "ok", "failed", "rejected"
	Kind         string  `json:"kind,omitempty"`      // remote: event kind
}

// Trace event types.
const (
	EventApply   = "apply"
	EventPush    = "push"
	EventRemote  = "remote"
	EventDiscard = "discard"
)

// Result is the outcome of a scenario run.
type Result struct {
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}
