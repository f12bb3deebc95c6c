package stt

import "testing"

func TestEvent_Split(t *testing.T) {
	tests := []struct {
		name        string
		ev          Event
		wantInterim string
		wantFinal   string
	}{
		{
			name:        "empty",
			ev:          Event{},
			wantInterim: "",
			wantFinal:   "",
		},
		{
			name: "interim only",
			ev: Event{Results: []Result{
				{Text: "I feel"},
			}},
			wantInterim: "I feel",
		},
		{
			name: "final and interim",
			ev: Event{Results: []Result{
				{Text: "I feel", IsFinal: true},
				{Text: " sad "},
			}},
			wantInterim: "sad",
			wantFinal:   "I feel",
		},
		{
			name: "results before index are skipped",
			ev: Event{ResultIndex: 1, Results: []Result{
				{Text: "already reported", IsFinal: true},
				{Text: "sad today", IsFinal: true},
			}},
			wantFinal: "sad today",
		},
		{
			name: "blank results ignored",
			ev: Event{Results: []Result{
				{Text: "  ", IsFinal: true},
				{Text: "hello", IsFinal: true},
				{Text: "there", IsFinal: true},
			}},
			wantFinal: "hello there",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interim, final := tt.ev.Split()
			if interim != tt.wantInterim {
				t.Errorf("interim = %q, want %q", interim, tt.wantInterim)
			}
			if final != tt.wantFinal {
				t.Errorf("final = %q, want %q", final, tt.wantFinal)
			}
		})
	}
}
