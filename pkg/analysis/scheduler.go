// Package analysis re-derives a user's conversation profile in the background.
package analysis

import "log/slog"

// Trigger names why an analysis run was requested.
type Trigger string

const (
	TriggerTurn       Trigger = "turn"
	TriggerSessionEnd Trigger = "session_end"
	TriggerManual     Trigger = "manual"
)

// Job asks for one analysis run for a user.
type Job struct {
	UserID  string
	Trigger Trigger
}

// Enqueuer accepts jobs without blocking.
type Enqueuer interface {
	Enqueue(job Job) bool
}

// TurnInterval is the number of user messages between turn-driven runs.
const TurnInterval = 3

// MinCompletedSessions is the completed-session count from which ending a
// session triggers a run.
const MinCompletedSessions = 3

// ShouldAnalyzeAfterTurn reports whether a session that now holds
// userMessageCount user messages is due for analysis.
func ShouldAnalyzeAfterTurn(userMessageCount int) bool {
	return userMessageCount > 0 && userMessageCount%TurnInterval == 0
}

// ShouldAnalyzeAfterSessionEnd reports whether a user with completedSessions
// completed sessions is due for analysis.
func ShouldAnalyzeAfterSessionEnd(completedSessions int) bool {
	return completedSessions >= MinCompletedSessions
}

// Scheduler decides when to analyse and hands due jobs to an Enqueuer.
// It never blocks the caller and never reports analysis failures.
type Scheduler struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewScheduler creates a scheduler feeding queue.
func NewScheduler(queue Enqueuer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{queue: queue, logger: logger}
}

// AfterTurn runs after a turn has been committed. It returns true if a job
// was handed off.
func (s *Scheduler) AfterTurn(userID string, userMessageCount int) bool {
	if !ShouldAnalyzeAfterTurn(userMessageCount) {
		return false
	}
	return s.enqueue(Job{UserID: userID, Trigger: TriggerTurn})
}

// AfterSessionEnd runs after a session has been completed.
func (s *Scheduler) AfterSessionEnd(userID string, completedSessions int) bool {
	if !ShouldAnalyzeAfterSessionEnd(completedSessions) {
		return false
	}
	return s.enqueue(Job{UserID: userID, Trigger: TriggerSessionEnd})
}

func (s *Scheduler) enqueue(job Job) bool {
	if s == nil || s.queue == nil {
		return false
	}
	if !s.queue.Enqueue(job) {
		s.logger.Warn("analysis job rejected", "user_id", job.UserID, "trigger", job.Trigger)
		return false
	}
	return true
}
