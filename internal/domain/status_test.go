package domain

import "testing"

func allStatuses() []MigrationStatus {
	return []MigrationStatus{
		StatusEnqueued, StatusRunning, StatusPausing, StatusPaused,
		StatusCancelling, StatusCancelled, StatusSucceeded, StatusFailed,
	}
}

func TestCanTransitionTo_ValidTransitions(t *testing.T) {
	valid := []struct {
		from, to MigrationStatus
	}{
		{StatusEnqueued, StatusRunning},
		{StatusRunning, StatusSucceeded},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusPausing},
		{StatusRunning, StatusCancelling},
		{StatusPausing, StatusPaused},
		{StatusPaused, StatusEnqueued},
		{StatusCancelling, StatusCancelled},
		{StatusFailed, StatusEnqueued},
	}

	for _, tr := range valid {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}
}

func TestCanTransitionTo_InvalidTransitions(t *testing.T) {
	valid := map[MigrationStatus]map[MigrationStatus]bool{
		StatusEnqueued:   {StatusRunning: true},
		StatusRunning:    {StatusSucceeded: true, StatusFailed: true, StatusPausing: true, StatusCancelling: true},
		StatusPausing:    {StatusPaused: true},
		StatusPaused:     {StatusEnqueued: true},
		StatusCancelling: {StatusCancelled: true},
		StatusFailed:     {StatusEnqueued: true},
	}

	// всё не перечисленное выше отклоняется, включая петли
	for _, from := range allStatuses() {
		for _, to := range allStatuses() {
			want := valid[from][to]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := map[MigrationStatus]bool{
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}

	for _, s := range allStatuses() {
		if got := s.IsTerminal(); got != terminal[s] {
			t.Errorf("%s.IsTerminal(): got %v, want %v", s, got, terminal[s])
		}
	}
}

func TestIsActive(t *testing.T) {
	active := map[MigrationStatus]bool{
		StatusRunning:    true,
		StatusPausing:    true,
		StatusCancelling: true,
	}

	for _, s := range allStatuses() {
		if got := s.IsActive(); got != active[s] {
			t.Errorf("%s.IsActive(): got %v, want %v", s, got, active[s])
		}
	}
}

func TestTerminalStatusesHaveNoOutgoingTransitions(t *testing.T) {
	// FAILED терминален, но retry явно возвращает его в очередь
	for _, from := range []MigrationStatus{StatusSucceeded, StatusCancelled} {
		for _, to := range allStatuses() {
			if from.CanTransitionTo(to) {
				t.Errorf("%s -> %s should be rejected", from, to)
			}
		}
	}
}
