package entity

import "testing"

func TestParseUpstreamState(t *testing.T) {
	tests := []struct {
		raw    string
		want   JobState
		wantOK bool
	}{
		{"succeeded", StateSucceeded, true},
		{"SUCCESS", StateSucceeded, true},
		{"Completed", StateSucceeded, true},
		{" done ", StateSucceeded, true},
		{"in-progress", StateProcessing, true},
		{"In Progress", StateProcessing, true},
		{"queued", StatePending, true},
		{"CREATE_TASK_FAILED", StateFailed, true},
		{"cancelled", StateFailed, true},
		{"", StateProcessing, false},
		{"almost_done", StateProcessing, false},
	}
	for _, tt := range tests {
		got, ok := ParseUpstreamState(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("ParseUpstreamState(%q) = %s,%v want %s,%v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseUpstreamState_CanonicalIsIdentity(t *testing.T) {
	for _, s := range []JobState{StatePending, StateProcessing, StateSucceeded, StateFailed} {
		got, ok := ParseUpstreamState(string(s))
		if !ok || got != s {
			t.Fatalf("canonical %s mapped to %s (ok=%v)", s, got, ok)
		}
	}
}

func TestJobHelpers(t *testing.T) {
	var nilJob *GenerationJob
	if nilJob.Delivered() || nilJob.Result() != "" {
		t.Fatal("nil job must be undelivered and empty")
	}
	if !StateFailed.Terminal() || StateProcessing.Terminal() {
		t.Fatal("terminal states wrong")
	}
	if Category("gif").Valid() || !CategoryAudio.Valid() {
		t.Fatal("category validation wrong")
	}
}
