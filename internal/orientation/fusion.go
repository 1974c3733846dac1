package orientation

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/sensors"
)

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *zap.SugaredLogger) Option { return func(e *Engine) { e.logger = l } }

// WithFeed makes mode starts subscribe to f. Without a feed the host pushes
// samples through OnAccelSample/OnGyroSample.
func WithFeed(f sensors.Feed) Option { return func(e *Engine) { e.feed = f } }

// OnAngle is called with every emitted angle (degrees). It runs under the
// engine lock and must not call back into the engine.
func OnAngle(fn func(angle float64)) Option { return func(e *Engine) { e.onAngle = fn } }

// Engine turns bias-corrected accelerometer and gyroscope samples into a
// tilt angle. All state mutation and emission is serialized by one mutex.
type Engine struct {
	clock   clock.Clock
	logger  *zap.SugaredLogger
	feed    sensors.Feed
	onAngle func(float64)

	// startMu serializes whole mode transitions: unsubscribe, reset and
	// subscribe happen as one step. Taken before mu.
	startMu sync.Mutex

	mu             sync.Mutex
	state          State
	lastAccelAngle float64
	// gen identifies the current mode start; handlers from older starts
	// are dropped.
	gen uint64
}

// NewEngine creates a stopped engine with zero biases.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:   clock.New(),
		logger:  zap.NewNop().Sugar(),
		onAngle: func(float64) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state.LastUpdateTime = e.clock.Now()
	return e
}

// ApplyCalibration installs new biases. A nil argument leaves that bias as is.
func (e *Engine) ApplyCalibration(accelBias, gyroBias *r3.Vector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if accelBias != nil {
		e.state.AccelBias = *accelBias
	}
	if gyroBias != nil {
		e.state.GyroBias = *gyroBias
	}
	e.logger.Infow("fusion: calibration applied",
		"accel_bias", e.state.AccelBias, "gyro_bias", e.state.GyroBias)
}

func (e *Engine) StartAccelOnly() error     { return e.Start(ModeAccelOnly) }
func (e *Engine) StartGyroOnly() error      { return e.Start(ModeGyroOnly) }
func (e *Engine) StartComplementary() error { return e.Start(ModeComplementary) }

// Start stops any active feeds, resets the angle to 0 and the update time to
// now, and begins estimating in mode m. ModeIdle is the same as Stop.
func (e *Engine) Start(m Mode) error {
	if m < ModeIdle || m > ModeComplementary {
		return fmt.Errorf("fusion: invalid mode %d", int(m))
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()
	if m == ModeIdle {
		e.stop()
		return nil
	}

	e.unsubscribe()

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.state.Mode = m
	e.state.Running = true
	e.state.CurrentAngle = 0
	e.state.LastUpdateTime = e.clock.Now()
	e.lastAccelAngle = 0
	e.mu.Unlock()

	if err := e.subscribe(gen, m); err != nil {
		e.stop()
		return fmt.Errorf("fusion: start %s: %w", m, err)
	}
	e.logger.Infow("fusion: mode started", "mode", m.String())
	return nil
}

// Stop halts both feeds. It is idempotent; state is kept until the next
// start, and nothing is emitted after Stop returns.
func (e *Engine) Stop() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	e.stop()
}

// stop is Stop with startMu held.
func (e *Engine) stop() {
	e.mu.Lock()
	wasRunning := e.state.Running
	e.state.Running = false
	e.gen++
	e.mu.Unlock()

	e.unsubscribe()
	if wasRunning {
		e.logger.Info("fusion: stopped")
	}
}

// State returns a snapshot.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Mode
}

// OnAccelSample processes one accelerometer reading for the current mode.
func (e *Engine) OnAccelSample(v r3.Vector) { e.handleAccel(0, v) }

// OnGyroSample processes one gyroscope reading for the current mode.
func (e *Engine) OnGyroSample(v r3.Vector) { e.handleGyro(0, v) }

// live reports whether a sample tagged with gen may touch state. gen 0 is
// used by direct calls and accepts the current start. Caller holds mu.
func (e *Engine) live(gen uint64) bool {
	return e.state.Running && (gen == 0 || gen == e.gen)
}

func (e *Engine) handleAccel(gen uint64, v r3.Vector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live(gen) {
		return
	}

	tilt := TiltFromAccel(v.Sub(e.state.AccelBias))
	switch e.state.Mode {
	case ModeAccelOnly:
		e.state.CurrentAngle = tilt
		e.onAngle(tilt)
	case ModeComplementary:
		// reference only; the gyro tick advances and emits
		e.lastAccelAngle = tilt
	}
}

func (e *Engine) handleGyro(gen uint64, v r3.Vector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live(gen) {
		return
	}
	if e.state.Mode != ModeGyroOnly && e.state.Mode != ModeComplementary {
		return
	}

	now := e.clock.Now()
	dt := now.Sub(e.state.LastUpdateTime)
	rateX := v.X - e.state.GyroBias.X

	gyroAngle := IntegrateRate(e.state.CurrentAngle, rateX, dt)
	if e.state.Mode == ModeComplementary {
		e.state.CurrentAngle = Blend(gyroAngle, e.lastAccelAngle, Alpha)
	} else {
		e.state.CurrentAngle = gyroAngle
	}
	e.state.LastUpdateTime = now
	e.onAngle(e.state.CurrentAngle)
}

func (e *Engine) subscribe(gen uint64, m Mode) error {
	if e.feed == nil {
		return nil
	}
	if m == ModeAccelOnly || m == ModeComplementary {
		if err := e.feed.StartAccel(func(v r3.Vector) { e.handleAccel(gen, v) }); err != nil {
			return err
		}
	}
	if m == ModeGyroOnly || m == ModeComplementary {
		if err := e.feed.StartGyro(func(v r3.Vector) { e.handleGyro(gen, v) }); err != nil {
			return err
		}
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
