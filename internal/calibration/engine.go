// Package calibration collects a timed window of accelerometer and gyroscope
// samples and derives per-axis bias and population variance for each sensor.
package calibration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/imu"
	"github.com/relabs-tech/tilt_sensor/internal/sensors"
)

// Exporter persists the raw buffers and statistics of a finished session.
type Exporter interface {
	SaveCalibration(accel, gyro []r3.Vector, res Result) error
}

// Completion is delivered exactly once per session.
type Completion struct {
	Result Result
	// Err is nil on success, wraps ErrInsufficientData when a channel was
	// empty, or is ErrCanceled / a feed error.
	Err error
	// ExportErr reports a failed export. The result is still valid.
	ExportErr error
}

// OK reports whether the session produced a usable result.
func (c Completion) OK() bool { return c.Err == nil }

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *zap.SugaredLogger) Option { return func(e *Engine) { e.logger = l } }

// WithFeed makes the engine subscribe to f for the duration of each session.
// Without a feed the host pushes samples through OnAccelSample/OnGyroSample.
func WithFeed(f sensors.Feed) Option { return func(e *Engine) { e.feed = f } }

func WithExporter(x Exporter) Option { return func(e *Engine) { e.exporter = x } }

// OnProgress is called once per elapsed second with e.g. "Calibrating... 42s".
func OnProgress(fn func(text string)) Option { return func(e *Engine) { e.onProgress = fn } }

// OnCompletion is called once when a session ends, successfully or not.
func OnCompletion(fn func(Completion)) Option { return func(e *Engine) { e.onCompletion = fn } }

// Engine runs calibration sessions. Only one session is active at a time.
type Engine struct {
	clock        clock.Clock
	logger       *zap.SugaredLogger
	feed         sensors.Feed
	exporter     Exporter
	onProgress   func(string)
	onCompletion func(Completion)

	accel *imu.Buffer
	gyro  *imu.Buffer

	mu        sync.Mutex
	active    bool
	accepting bool
	session   uint64
	sessionID string
	startedAt time.Time
	cancel    context.CancelFunc
	last      *Result
}

// New creates an idle engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:        clock.New(),
		logger:       zap.NewNop().Sugar(),
		onProgress:   func(string) {},
		onCompletion: func(Completion) {},
		accel:        imu.NewBuffer(imu.Accel),
		gyro:         imu.NewBuffer(imu.Gyro),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a session of durationSeconds whole seconds. It returns
// ErrAlreadyRunning if a session is active. A non-positive duration completes
// the session before Start returns.
func (e *Engine) Start(durationSeconds int) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		e.logger.Warn("calibration: start ignored, session already running")
		return ErrAlreadyRunning
	}
	e.active = true
	e.accepting = true
	e.session++
	gen := e.session
	id := uuid.NewString()
	e.sessionID = id
	e.startedAt = e.clock.Now()
	e.accel.Reset()
	e.gyro.Reset()
	var ctx context.Context
	if durationSeconds > 0 {
		ctx, e.cancel = context.WithCancel(context.Background())
	}
	e.mu.Unlock()

	e.logger.Infow("calibration: started", "session", id, "duration_s", durationSeconds)

	if err := e.subscribe(gen); err != nil {
		err = fmt.Errorf("calibration: start feed: %w", err)
		e.finish(gen, err)
		return err
	}

	if durationSeconds <= 0 {
		e.finish(gen, nil)
		return nil
	}

	go e.countdown(ctx, gen, e.clock.Ticker(time.Second), durationSeconds)
	return nil
}

// Cancel aborts the active session, if any. Its completion carries
// ErrCanceled.
func (e *Engine) Cancel() {
	e.mu.Lock()
	active, gen := e.active, e.session
	e.mu.Unlock()
	if active {
		e.finish(gen, ErrCanceled)
	}
}

// Active reports whether a session is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// LastResult returns the most recent successful result.
func (e *Engine) LastResult() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Result{}, false
	}
	return *e.last, true
}

// OnAccelSample buffers an accelerometer reading if a session is accepting.
func (e *Engine) OnAccelSample(v r3.Vector) { e.record(0, e.accel, v) }

// OnGyroSample buffers a gyroscope reading if a session is accepting.
func (e *Engine) OnGyroSample(v r3.Vector) { e.record(0, e.gyro, v) }

// record appends under the engine lock so nothing lands after the window
// closes. gen 0 accepts any session.
func (e *Engine) record(gen uint64, b *imu.Buffer, v r3.Vector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.accepting || (gen != 0 && gen != e.session) {
		return
	}
	b.Append(v)
}

func (e *Engine) subscribe(gen uint64) error {
	if e.feed == nil {
		return nil
	}
	if err := e.feed.StartAccel(func(v r3.Vector) { e.record(gen, e.accel, v) }); err != nil {
		return err
	}
	if err := e.feed.StartGyro(func(v r3.Vector) { e.record(gen, e.gyro, v) }); err != nil {
		e.feed.StopAccel()
		return err
	}
	return nil
}

func (e *Engine) unsubscribe() {
	if e.feed == nil {
		return
	}
	e.feed.StopAccel()
	e.feed.StopGyro()
}

func (e *Engine) countdown(ctx context.Context, gen uint64, ticker *clock.Ticker, remaining int) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		remaining--
		e.onProgress(fmt.Sprintf("Calibrating... %ds", remaining))
		if remaining <= 0 {
			e.finish(gen, nil)
			return
		}
	}
}

// finish closes session gen: stop accepting, compute, export, notify, then
// clear the re-entrancy guard. Only the first call for a session does work.
func (e *Engine) finish(gen uint64, cause error) {
	e.mu.Lock()
	if !e.active || e.session != gen || !e.accepting {
		e.mu.Unlock()
		return
	}
	e.accepting = false
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	sessionID, startedAt := e.sessionID, e.startedAt
	e.mu.Unlock()

	e.unsubscribe()

	var c Completion
	if cause != nil {
		c.Err = cause
		e.logger.Warnw("calibration: aborted", "session", sessionID, "error", cause)
	} else {
		accel, gyro := e.accel.Snapshot(), e.gyro.Snapshot()
		res, err := Compute(accel, gyro)
		res.SessionID = sessionID
		res.StartedAt = startedAt
		res.CompletedAt = e.clock.Now()
		c.Result, c.Err = res, err

		if err != nil {
			e.logger.Errorw("calibration: no usable result", "session", sessionID,
				"accel_samples", len(accel), "gyro_samples", len(gyro), "error", err)
		} else {
			e.mu.Lock()
			e.last = &res
			e.mu.Unlock()
			e.logger.Infow("calibration: complete", "session", sessionID,
				"accel_samples", len(accel), "gyro_samples", len(gyro),
				"accel_bias", res.Accel.Bias, "gyro_bias", res.Gyro.Bias)

			if e.exporter != nil {
				if err := e.exporter.SaveCalibration(accel, gyro, res); err != nil {
					c.ExportErr = err
					e.logger.Errorw("calibration: export failed", "session", sessionID, "error", err)
				}
			}
		}
	}

	e.onCompletion(c)

	e.mu.Lock()
	if e.session == gen {
		e.active = false
	}
	e.mu.Unlock()
}
