package entity

import "strings"

// upstreamStates maps the compute vendors' status vocabulary onto JobState.
// Keys are normalized with normalizeStatusKey before lookup.
var upstreamStates = map[string]JobState{
	// canonical
	"pending":    StatePending,
	"processing": StateProcessing,
	"succeeded":  StateSucceeded,
	"failed":     StateFailed,

	// queued / not started
	"queued":      StatePending,
	"in_queue":    StatePending,
	"queueing":    StatePending,
	"waiting":     StatePending,
	"wait":        StatePending,
	"submitted":   StatePending,
	"created":     StatePending,
	"scheduled":   StatePending,
	"starting":    StatePending,
	"not_started": StatePending,

	// running
	"running":     StateProcessing,
	"in_progress": StateProcessing,
	"progress":    StateProcessing,
	"generating":  StateProcessing,
	"started":     StateProcessing,
	"working":     StateProcessing,
	"rendering":   StateProcessing,

	// finished with a result
	"success":    StateSucceeded,
	"successful": StateSucceeded,
	"succeed":    StateSucceeded,
	"completed":  StateSucceeded,
	"complete":   StateSucceeded,
	"done":       StateSucceeded,
	"finished":   StateSucceeded,

	// finished without a result
	"fail":               StateFailed,
	"failure":            StateFailed,
	"error":              StateFailed,
	"errored":            StateFailed,
	"canceled":           StateFailed,
	"cancelled":          StateFailed,
	"timeout":            StateFailed,
	"timed_out":          StateFailed,
	"expired":            StateFailed,
	"rejected":           StateFailed,
	"create_task_failed": StateFailed,
	"generate_failed":    StateFailed,
}

// ParseUpstreamState maps a raw upstream status onto the canonical enum.
// Unrecognized input yields StateProcessing and ok=false; it is never
// treated as success.
func ParseUpstreamState(raw string) (state JobState, ok bool) {
	state, ok = upstreamStates[normalizeStatusKey(raw)]
	if !ok {
		return StateProcessing, false
	}
	return state, true
}

func normalizeStatusKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	return key
}
