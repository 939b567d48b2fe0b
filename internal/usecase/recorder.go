package usecase

import "time"

// Recorder receives counters and timings from the debate flow.
type Recorder interface {
	DebateOutcome(outcome Outcome)
	FallbackReply(reason string)
	GenerationDuration(d time.Duration)
	AppendRetry()
}

type NopRecorder struct{}

func (NopRecorder) DebateOutcome(Outcome) {}
func (NopRecorder) FallbackReply(string) {}
func (NopRecorder) GenerationDuration(time.Duration) {}
func (NopRecorder) AppendRetry() {}
