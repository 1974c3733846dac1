package app

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tilt_sensor/internal/config"
	"github.com/relabs-tech/tilt_sensor/internal/export"
	"github.com/relabs-tech/tilt_sensor/internal/orientation"
	"github.com/relabs-tech/tilt_sensor/internal/sensors"
)

// stubFeed hands samples to whatever handler is currently registered.
type stubFeed struct {
	mu          sync.Mutex
	accel, gyro sensors.Handler
}

func (f *stubFeed) StartAccel(h sensors.Handler) error {
	f.mu.Lock()
	f.accel = h
	f.mu.Unlock()
	return nil
}

func (f *stubFeed) StartGyro(h sensors.Handler) error {
	f.mu.Lock()
	f.gyro = h
	f.mu.Unlock()
	return nil
}

func (f *stubFeed) StopAccel() {
	f.mu.Lock()
	f.accel = nil
	f.mu.Unlock()
}

func (f *stubFeed) StopGyro() {
	f.mu.Lock()
	f.gyro = nil
	f.mu.Unlock()
}

func (f *stubFeed) pushAccel(v r3.Vector) {
	f.mu.Lock()
	h := f.accel
	f.mu.Unlock()
	if h != nil {
		h(v)
	}
}

func (f *stubFeed) pushGyro(v r3.Vector) {
	f.mu.Lock()
	h := f.gyro
	f.mu.Unlock()
	if h != nil {
		h(v)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog { return &eventLog{ch: make(chan Event, 1024)} }

func (l *eventLog) Notify(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.ch <- ev:
	default:
	}
}

func (l *eventLog) ofType(typ string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor drains the channel until an event of typ arrives.
func (l *eventLog) waitFor(t *testing.T, typ string) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-l.ch:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
			return Event{}
		}
	}
}

type nopSink struct{}

func (nopSink) SaveMeasurement(string, []export.Measurement) (string, error) { return "", nil }

type testApp struct {
	*App
	clock  *clock.Mock
	feed   *stubFeed
	events *eventLog
	cfg    *config.Config
}

func newTestApp(t *testing.T, mutate ...func(*config.Config)) *testApp {
	t.Helper()
	cfg := config.Default()
	cfg.ExportDir = t.TempDir()
	for _, m := range mutate {
		m(cfg)
	}
	ta := &testApp{clock: clock.NewMock(), feed: &stubFeed{}, events: newEventLog(), cfg: cfg}
	ta.App = New(cfg, ta.feed,
		WithClock(ta.clock),
		WithNotifier(ta.events),
		WithMeasurementSink(nopSink{}),
	)
	t.Cleanup(ta.Close)
	return ta
}

// runCalibration starts a session, feeds samples before each second and
// returns the completion event.
func (ta *testApp) runCalibration(t *testing.T, seconds int, accel, gyro r3.Vector) Event {
	t.Helper()
	require.NoError(t, ta.StartCalibration(seconds))
	for i := 0; i < seconds; i++ {
		ta.feed.pushAccel(accel)
		ta.feed.pushGyro(gyro)
		ta.clock.Add(time.Second)
		if i < seconds-1 {
			ta.events.waitFor(t, EventProgress)
		}
	}
	return ta.events.waitFor(t, EventComplete)
}

func TestSetModeAccelOnlyEmitsAngles(t *testing.T) {
	ta := newTestApp(t)

	_, _, ok := ta.Angle()
	assert.False(t, ok)

	require.NoError(t, ta.SetMode(orientation.ModeAccelOnly))
	ta.feed.pushAccel(r3.Vector{Z: 1})
	ta.feed.pushAccel(r3.Vector{Y: -1})

	angle, _, ok := ta.Angle()
	require.True(t, ok)
	assert.InDelta(t, 90, angle, 1e-9)

	angles := ta.events.ofType(EventAngle)
	require.Len(t, angles, 2)
	assert.InDelta(t, 0, *angles[0].Angle, 1e-9)
	assert.Equal(t, "acc", angles[1].Mode)

	modes := ta.events.ofType(EventMode)
	require.Len(t, modes, 1)
	assert.Equal(t, "acc", modes[0].Mode)

	st := ta.Status()
	assert.Equal(t, "acc", st.Recording)
	assert.True(t, st.Fusion.Running)
	assert.Equal(t, ta.cfg.ExportDir, st.ExportDir)
}

func TestSetModeIdleStops(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.SetMode(orientation.ModeComplementary))
	assert.Equal(t, "fusion", ta.Status().Recording)

	require.NoError(t, ta.SetMode(orientation.ModeIdle))
	ta.feed.pushAccel(r3.Vector{Z: 1})
	ta.feed.pushGyro(r3.Vector{X: 1})

	assert.Empty(t, ta.events.ofType(EventAngle))
	_, _, ok := ta.Angle()
	assert.False(t, ok)

	st := ta.Status()
	assert.Empty(t, st.Recording)
	assert.False(t, st.Fusion.Running)
}

func TestCalibrationAppliesBiases(t *testing.T) {
	ta := newTestApp(t)

	ev := ta.runCalibration(t, 2, r3.Vector{X: 0.1, Z: 1}, r3.Vector{X: 0.5, Y: -0.2})
	require.NotNil(t, ev.Result)
	assert.Empty(t, ev.Error)
	assert.Empty(t, ev.ExportErr)
	assert.Equal(t, 2, ev.Result.Accel.Samples)

	// the guard clears after the completion is delivered
	assert.Eventually(t, func() bool { return !ta.Status().Calibrating }, time.Second, 5*time.Millisecond)
	st := ta.Status()
	require.NotNil(t, st.LastCalibration)
	assert.InDelta(t, 0.5, st.Fusion.GyroBias.X, 1e-12)
	assert.InDelta(t, -0.2, st.Fusion.GyroBias.Y, 1e-12)
	assert.InDelta(t, 0.1, st.Fusion.AccelBias.X, 1e-12)
	assert.InDelta(t, 1, st.Fusion.AccelBias.Z, 1e-12)

	raw, err := filepath.Glob(filepath.Join(ta.cfg.ExportDir, "*_raw.csv"))
	require.NoError(t, err)
	assert.Len(t, raw, 1)
}

func TestCalibrationGyroBiasOnly(t *testing.T) {
	ta := newTestApp(t, func(c *config.Config) { c.ApplyAccelBias = false })

	ev := ta.runCalibration(t, 1, r3.Vector{Z: 1}, r3.Vector{X: 2})
	require.NotNil(t, ev.Result)

	st := ta.Status().Fusion
	assert.Equal(t, r3.Vector{}, st.AccelBias)
	assert.InDelta(t, 2, st.GyroBias.X, 1e-12)
}

func TestCalibrationSharesFeedWithFusion(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.SetMode(orientation.ModeGyroOnly))

	ev := ta.runCalibration(t, 2, r3.Vector{Z: 1}, r3.Vector{X: 1})
	require.NotNil(t, ev.Result)
	assert.Equal(t, 2, ev.Result.Gyro.Samples)
	assert.Len(t, ta.events.ofType(EventAngle), 2, "fusion kept receiving during calibration")

	// fusion still subscribed after the session released its handlers
	ta.feed.pushGyro(r3.Vector{X: 1})
	assert.Len(t, ta.events.ofType(EventAngle), 3)
	assert.True(t, ta.Status().Fusion.Running)
}

func TestCancelCalibration(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.StartCalibration(10))
	assert.True(t, ta.Status().Calibrating)

	ta.CancelCalibration()
	ev := ta.events.waitFor(t, EventComplete)
	assert.Nil(t, ev.Result)
	assert.Contains(t, ev.Error, "canceled")
	assert.False(t, ta.Status().Calibrating)
	assert.Nil(t, ta.Status().LastCalibration)
}

func TestStartCalibrationTwice(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.StartCalibration(10))
	assert.Error(t, ta.StartCalibration(10))
}

func TestConcurrentSetModeSettles(t *testing.T) {
	ta := newTestApp(t)
	modes := []orientation.Mode{orientation.ModeAccelOnly, orientation.ModeGyroOnly, orientation.ModeComplementary}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(m orientation.Mode) {
			defer wg.Done()
			assert.NoError(t, ta.SetMode(m))
		}(modes[i%len(modes)])
	}
	wg.Wait()

	st := ta.Status()
	require.True(t, st.Fusion.Running)
	assert.Equal(t, st.Fusion.Mode.String(), st.Recording)

	// whichever mode won, its handlers are live
	before := len(ta.events.ofType(EventAngle))
	ta.clock.Add(10 * time.Millisecond)
	ta.feed.pushAccel(r3.Vector{Z: 1})
	ta.feed.pushGyro(r3.Vector{})
	assert.Greater(t, len(ta.events.ofType(EventAngle)), before)
}
