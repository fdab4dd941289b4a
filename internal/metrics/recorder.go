// Package metrics defines the observability hooks of builds and the file
// server, with a Prometheus implementation and a no-op default.
package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultDegraded ResultLabel = "degraded"
	ResultFatal    ResultLabel = "fatal"
)

// OutcomeLabel is the final status of a build.
type OutcomeLabel string

const (
	OutcomeSuccess  OutcomeLabel = "success"
	OutcomeDegraded OutcomeLabel = "degraded"
	OutcomeFailed   OutcomeLabel = "failed"
)

// Recorder receives build and server measurements. Implementations must be
// safe for concurrent use.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncBuildOutcome(outcome OutcomeLabel)
	SetArtifacts(pages, documents int)
	IncFileRequest(route string, status int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are
// disabled).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) IncBuildOutcome(OutcomeLabel)               {}
func (NoopRecorder) SetArtifacts(int, int)                      {}
func (NoopRecorder) IncFileRequest(string, int)                 {}
