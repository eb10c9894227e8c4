package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights a fresh ETA estimate against the previous one.
const etaSmoothing = 0.3

// speedInterval is the minimum gap between throughput samples.
const speedInterval = 500 * time.Millisecond

// ProgressTracker holds the TUI's view of an ingestion.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	stage      Stage
	current    int
	total      int
	document   string
	startTime  time.Time
	stageStart time.Time
	errors     []ErrorEvent
	warnings   []ErrorEvent
	lastETA    time.Duration

	lastCurrent int
	lastSample  time.Time
	speed       SpeedStats
	samples     int
}

// SpeedStats describes chunk throughput in items per second.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is a point-in-time copy of the tracker.
type ProgressStats struct {
	Stage           Stage
	Current         int
	Total           int
	Progress        float64 // 0.0-1.0
	ETA             time.Duration
	CurrentDocument string
	ErrorCount      int
	WarnCount       int
	Speed           SpeedStats
}

// NewProgressTracker creates a tracker in the loading stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageLoading,
		startTime:  now,
		stageStart: now,
		lastSample: now,
	}
}

// SetStage moves to stage and resets the per-stage counters.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.stage = stage
	p.total = total
	p.current = 0
	p.document = ""
	p.stageStart = now
	p.lastETA = 0
	p.lastCurrent = 0
	p.lastSample = now
	p.speed = SpeedStats{}
	p.samples = 0
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, document string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if document != "" {
		p.document = document
	}

	now := time.Now()
	elapsed := now.Sub(p.lastSample)
	if elapsed < speedInterval {
		return
	}
	if delta := current - p.lastCurrent; delta > 0 {
		rate := float64(delta) / elapsed.Seconds()
		p.samples++
		p.speed.Current = rate
		if p.samples == 1 {
			p.speed.Avg = rate
		} else {
			p.speed.Avg = 0.2*rate + 0.8*p.speed.Avg
		}
		p.speed.Peak = max(p.speed.Peak, rate)
	}
	p.lastCurrent = current
	p.lastSample = now
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
		return
	}
	p.errors = append(p.errors, event)
}

// Elapsed returns the time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.startTime)
}

// Stats returns a snapshot. It takes the write lock because the ETA
// estimate is smoothed across calls.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:           p.stage,
		Current:         p.current,
		Total:           p.total,
		Progress:        p.fraction(),
		ETA:             p.eta(),
		CurrentDocument: p.document,
		ErrorCount:      len(p.errors),
		WarnCount:       len(p.warnings),
		Speed:           p.speed,
	}
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}

func (p *ProgressTracker) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1.0)
}

// eta must be called with the lock held.
func (p *ProgressTracker) eta() time.Duration {
	frac := p.fraction()
	if frac <= 0 || frac >= 1 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	remaining := time.Duration(float64(elapsed)/frac) - elapsed
	if remaining < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}
	p.lastETA = time.Duration(etaSmoothing*float64(remaining) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
