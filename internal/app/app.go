// Package app wires the sensor feed, the calibration and fusion engines, the
// exporters and the outbound notification sinks into one running service.
package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/calibration"
	"github.com/relabs-tech/tilt_sensor/internal/config"
	"github.com/relabs-tech/tilt_sensor/internal/export"
	"github.com/relabs-tech/tilt_sensor/internal/orientation"
	"github.com/relabs-tech/tilt_sensor/internal/sensors"
)

var (
	errNoController  = errors.New("no controller attached")
	errUnknownAction = errors.New("unknown action")
)

// Option configures an App.
type Option func(*App)

func WithClock(c clock.Clock) Option { return func(a *App) { a.clock = c } }

func WithLogger(l *zap.SugaredLogger) Option { return func(a *App) { a.logger = l } }

// WithNotifier adds an outbound sink. Can be given more than once.
func WithNotifier(n Notifier) Option {
	return func(a *App) { a.notifiers = append(a.notifiers, n) }
}

// WithMeasurementSink replaces the directory exporter for measurement windows.
func WithMeasurementSink(s export.MeasurementSink) Option {
	return func(a *App) { a.measurementSink = s }
}

// WithCalibrationExporter replaces the directory exporter for calibration
// sessions.
func WithCalibrationExporter(x calibration.Exporter) Option {
	return func(a *App) { a.calibrationExporter = x }
}

// Status is the snapshot served at /api/state.
type Status struct {
	Fusion          orientation.State   `json:"fusion"`
	Calibrating     bool                `json:"calibrating"`
	Progress        string              `json:"progress,omitempty"`
	LastCalibration *calibration.Result `json:"last_calibration,omitempty"`
	Recording       string              `json:"recording,omitempty"`
	ExportDir       string              `json:"export_dir"`
}

// App owns one calibration engine and one fusion engine sharing a feed.
type App struct {
	cfg       *config.Config
	clock     clock.Clock
	logger    *zap.SugaredLogger
	notifiers Notifiers

	measurementSink     export.MeasurementSink
	calibrationExporter calibration.Exporter

	mux      *sensors.Mux
	calib    *calibration.Engine
	fusion   *orientation.Engine
	recorder *export.Recorder

	// setMu serializes SetMode so the recorder window, a.mode and the
	// fusion mode always agree.
	setMu sync.Mutex

	mu          sync.RWMutex
	mode        orientation.Mode
	lastAngle   float64
	lastAngleAt time.Time
	haveAngle   bool
	progress    string
}

// New builds an App on top of feed. Nothing runs until a calibration or a
// fusion mode is started.
func New(cfg *config.Config, feed sensors.Feed, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		clock:  clock.New(),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(a)
	}

	dir := export.NewDir(cfg.ExportDir, a.clock, a.logger.Named("export"))
	if a.measurementSink == nil {
		a.measurementSink = dir
	}
	if a.calibrationExporter == nil {
		a.calibrationExporter = dir
	}

	a.mux = sensors.NewMux(feed)
	a.recorder = export.NewRecorder(a.measurementSink, cfg.MeasurementWindow(), a.clock, a.logger.Named("recorder"))

	a.fusion = orientation.NewEngine(
		orientation.WithClock(a.clock),
		orientation.WithLogger(a.logger.Named("fusion")),
		orientation.WithFeed(a.mux.Sub()),
		orientation.OnAngle(a.onAngle),
	)
	a.calib = calibration.New(
		calibration.WithClock(a.clock),
		calibration.WithLogger(a.logger.Named("calibration")),
		calibration.WithFeed(a.mux.Sub()),
		calibration.WithExporter(a.calibrationExporter),
		calibration.OnProgress(a.onProgress),
		calibration.OnCompletion(a.onCompletion),
	)
	return a
}

// Runs under the fusion engine lock.
func (a *App) onAngle(angle float64) {
	now := a.clock.Now()
	a.mu.Lock()
	a.lastAngle, a.lastAngleAt, a.haveAngle = angle, now, true
	mode := a.mode
	a.mu.Unlock()

	a.recorder.Record(angle)
	a.notifiers.Notify(angleEvent(now, mode, angle))
}

func (a *App) onProgress(text string) {
	a.mu.Lock()
	a.progress = text
	a.mu.Unlock()
	a.notifiers.Notify(progressEvent(a.clock.Now(), text))
}

func (a *App) onCompletion(c calibration.Completion) {
	a.mu.Lock()
	a.progress = ""
	a.mu.Unlock()

	if c.OK() {
		accelBias, gyroBias := c.Result.AccelBias(), c.Result.GyroBias()
		if a.cfg.ApplyAccelBias {
			a.fusion.ApplyCalibration(&accelBias, &gyroBias)
		} else {
			a.fusion.ApplyCalibration(nil, &gyroBias)
		}
	}
	a.notifiers.Notify(completeEvent(a.clock.Now(), c))
}

// StartCalibration begins a session; see calibration.Engine.Start.
func (a *App) StartCalibration(durationSeconds int) error {
	return a.calib.Start(durationSeconds)
}

func (a *App) DefaultCalibrationDuration() int { return a.cfg.CalibrationDurationS }

func (a *App) CancelCalibration() { a.calib.Cancel() }

// SetMode switches fusion mode and restarts the measurement recording.
// ModeIdle stops fusion and discards the open window.
func (a *App) SetMode(m orientation.Mode) error {
	a.setMu.Lock()
	defer a.setMu.Unlock()

	// silence the previous mode before its window is replaced
	a.fusion.Stop()

	a.mu.Lock()
	a.mode = m
	a.haveAngle = false
	a.mu.Unlock()

	if m == orientation.ModeIdle {
		a.recorder.Stop()
	} else {
		a.recorder.Start(m.String())
		if err := a.fusion.Start(m); err != nil {
			a.recorder.Stop()
			return fmt.Errorf("set mode: %w", err)
		}
	}

	a.notifiers.Notify(modeEvent(a.clock.Now(), m))
	return nil
}

// Angle returns the most recent emitted angle since the last mode change.
func (a *App) Angle() (angle float64, at time.Time, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastAngle, a.lastAngleAt, a.haveAngle
}

func (a *App) Status() Status {
	st := Status{
		Fusion:      a.fusion.State(),
		Calibrating: a.calib.Active(),
		Recording:   a.recorder.Mode(),
		ExportDir:   a.cfg.ExportDir,
	}
	if res, ok := a.calib.LastResult(); ok {
		st.LastCalibration = &res
	}
	a.mu.RLock()
	st.Progress = a.progress
	a.mu.RUnlock()
	return st
}

// Close stops fusion, cancels any calibration and drops the open window.
func (a *App) Close() {
	a.fusion.Stop()
	a.calib.Cancel()
	a.recorder.Stop()
}
