package workflows_test

import (
	"testing"

	"github.com/crestline/renewals/internal/workflows"
)

func TestLaneStatusTerminal(t *testing.T) {
	tests := []struct {
		status   workflows.LaneStatus
		terminal bool
	}{
		{workflows.LanePending, false},
		{workflows.LaneRunning, false},
		{workflows.LaneAwaitingApproval, false},
		{workflows.LaneApproved, true},
		{workflows.LaneFailed, true},
		{workflows.LaneExhausted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestLaneStatusRunnable(t *testing.T) {
	tests := []struct {
		status   workflows.LaneStatus
		runnable bool
	}{
		{workflows.LanePending, true},
		{workflows.LaneRunning, true},
		{workflows.LaneAwaitingApproval, false},
		{workflows.LaneApproved, false},
		{workflows.LaneFailed, false},
		{workflows.LaneExhausted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Runnable(); got != tt.runnable {
				t.Errorf("Runnable() = %v, want %v", got, tt.runnable)
			}
		})
	}
}
