// Package profiler - Per-stage timing and memory reporting for a pipeline run.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeTracker tracks timing statistics for one named stage.
type TimeTracker struct {
	name      string
	order     int
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Name returns the stage name.
func (t *TimeTracker) Name() string { return t.name }

// Total returns the accumulated duration.
func (t *TimeTracker) Total() time.Duration { return t.totalTime }

// Count returns how many times the stage completed.
func (t *TimeTracker) Count() int64 { return t.count }

// Profiler records how long each pipeline stage takes.
//
// A nil *Profiler is valid and records nothing, so stages can be timed
// unconditionally.
type Profiler struct {
	mu             sync.Mutex
	startTime      time.Time
	operationTimes map[string]*TimeTracker
	now            func() time.Time
}

// New creates a profiler whose uptime starts now.
func New() *Profiler {
	return &Profiler{
		startTime:      time.Now(),
		operationTimes: make(map[string]*TimeTracker),
		now:            time.Now,
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the stage to track.
//
// Returns:
//   - func(): Call when the stage completes, typically with defer.
//
// @example
//
//	done := p.StartOperation("preprocess")
//	defer done()
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := p.now()
	return func() {
		p.recordOperationTime(name, p.now().Sub(start))
	}
}

func (p *Profiler) recordOperationTime(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{
			name:    name,
			order:   len(p.operationTimes),
			minTime: duration,
			maxTime: duration,
		}
		p.operationTimes[name] = tracker
	}

	tracker.totalTime += duration
	tracker.count++
	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Stages returns the trackers in the order the stages first completed.
func (p *Profiler) Stages() []*TimeTracker {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*TimeTracker, 0, len(p.operationTimes))
	for _, t := range p.operationTimes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Report logs one line per stage and a memory summary.
//
// Arguments:
//   - logger: Destination for the report.
//   - level: The level the report is logged at.
func (p *Profiler) Report(logger logrus.FieldLogger, level logrus.Level) {
	if p == nil {
		return
	}
	log := func(entry *logrus.Entry, msg string) {
		switch level {
		case logrus.DebugLevel, logrus.TraceLevel:
			entry.Debug(msg)
		default:
			entry.Info(msg)
		}
	}

	for _, t := range p.Stages() {
		entry := logger.WithFields(logrus.Fields{
			"stage": t.name,
			"total": t.totalTime.Truncate(time.Microsecond),
			"count": t.count,
		})
		if t.count > 1 {
			entry = entry.WithFields(logrus.Fields{
				"min": t.minTime.Truncate(time.Microsecond),
				"max": t.maxTime.Truncate(time.Microsecond),
			})
		}
		log(entry, "stage timing")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log(logger.WithFields(logrus.Fields{
		"uptime":     p.now().Sub(p.startTime).Truncate(time.Millisecond),
		"heap_alloc": formatBytes(mem.HeapAlloc),
		"sys":        formatBytes(mem.Sys),
		"gc_cycles":  mem.NumGC,
		"cgo_calls":  runtime.NumCgoCall(),
	}), "runtime summary")
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
