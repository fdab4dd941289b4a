package build

import (
	"sync"
	"time"
)

// BuildMetrics tracks the builds run by one pipeline.
type BuildMetrics struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	DegradedBuilds   int64
	FailedBuilds     int64
	AverageDuration  time.Duration
	TotalDuration    time.Duration
	LastBuild        time.Time
	mutex            sync.RWMutex
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordBuild records a finished build.
func (bm *BuildMetrics) RecordBuild(report *Report) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds++
	bm.TotalDuration += report.Duration
	bm.LastBuild = report.Started

	switch report.Outcome {
	case OutcomeSuccess:
		bm.SuccessfulBuilds++
	case OutcomeDegraded:
		bm.DegradedBuilds++
	default:
		bm.FailedBuilds++
	}

	bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalBuilds)
}

// GetSnapshot returns a snapshot of current metrics
func (bm *BuildMetrics) GetSnapshot() BuildMetrics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	return BuildMetrics{
		TotalBuilds:      bm.TotalBuilds,
		SuccessfulBuilds: bm.SuccessfulBuilds,
		DegradedBuilds:   bm.DegradedBuilds,
		FailedBuilds:     bm.FailedBuilds,
		AverageDuration:  bm.AverageDuration,
		TotalDuration:    bm.TotalDuration,
		LastBuild:        bm.LastBuild,
	}
}

// GetSuccessRate returns the share of builds without any failure as a
// percentage.
func (bm *BuildMetrics) GetSuccessRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	if bm.TotalBuilds == 0 {
		return 0.0
	}

	return float64(bm.SuccessfulBuilds) / float64(bm.TotalBuilds) * 100.0
}
