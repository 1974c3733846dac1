package export

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// MeasurementSink persists one finished recording window.
type MeasurementSink interface {
	SaveMeasurement(mode string, ms []Measurement) (string, error)
}

// Recorder collects emitted angles for the active fusion mode and hands a
// window of them to the sink every window duration, then starts a new one.
type Recorder struct {
	clock  clock.Clock
	logger *zap.SugaredLogger
	sink   MeasurementSink
	window time.Duration

	mu      sync.Mutex
	mode    string
	started time.Time
	samples []Measurement
	timer   *clock.Timer
	gen     uint64
}

func NewRecorder(sink MeasurementSink, window time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recorder{clock: clk, logger: logger, sink: sink, window: window}
}

// Start discards any open window and begins recording for mode.
func (r *Recorder) Start(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.gen++
	r.mode = mode
	r.started = r.clock.Now()
	r.samples = nil
	gen := r.gen
	r.timer = r.clock.AfterFunc(r.window, func() { r.flush(gen) })
	r.logger.Debugw("recorder: window opened", "mode", mode, "window", r.window)
}

// Stop discards the open window without writing it.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.gen++
}

func (r *Recorder) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mode = ""
	r.samples = nil
}

// Record stamps angle with the time since the window opened. It is a no-op
// while no mode is recording.
func (r *Recorder) Record(angle float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == "" {
		return
	}
	r.samples = append(r.samples, Measurement{
		Elapsed: r.clock.Since(r.started).Seconds(),
		Angle:   angle,
	})
}

// Mode returns the mode being recorded, or "" when idle.
func (r *Recorder) Mode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Recorder) flush(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.mode == "" {
		r.mu.Unlock()
		return
	}
	mode, samples := r.mode, r.samples
	r.samples = nil
	r.started = r.clock.Now()
	r.timer = r.clock.AfterFunc(r.window, func() { r.flush(gen) })
	r.mu.Unlock()

	if _, err := r.sink.SaveMeasurement(mode, samples); err != nil {
		r.logger.Errorw("recorder: save failed", "mode", mode, "rows", len(samples), "error", err)
	}
}
