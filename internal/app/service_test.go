package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/calibration"
	"github.com/relabs-tech/tilt_sensor/internal/config"
	"github.com/relabs-tech/tilt_sensor/internal/export"
	"github.com/relabs-tech/tilt_sensor/internal/imu"
	"github.com/relabs-tech/tilt_sensor/internal/orientation"
)

func TestFormatEvent(t *testing.T) {
	at := time.Now()
	assert.Equal(t, "[ANGLE] acc       12.3°", formatEvent(angleEvent(at, orientation.ModeAccelOnly, 12.34)))
	assert.Equal(t, "[CAL ] Calibrating... 4s", formatEvent(progressEvent(at, "Calibrating... 4s")))
	assert.Equal(t, "[MODE] fusion", formatEvent(modeEvent(at, orientation.ModeComplementary)))

	failed := formatEvent(completeEvent(at, calibration.Completion{Err: calibration.ErrCanceled}))
	assert.Equal(t, "[CAL ] Calibration failed: calibration: canceled", failed)

	ok := formatEvent(completeEvent(at, calibration.Completion{
		Result: calibration.Result{
			Accel: calibration.Stats{Bias: r3.Vector{Z: 1}, Samples: 10},
			Gyro:  calibration.Stats{Bias: r3.Vector{X: 0.5}, Samples: 9},
		},
		ExportErr: errors.New("disk full"),
	}))
	assert.True(t, strings.HasPrefix(ok, "[CAL ] Calibration complete"))
	assert.Contains(t, ok, "samples=10/9")
	assert.Contains(t, ok, "export failed: disk full")
}

func TestWriterNotifierThrottlesAngles(t *testing.T) {
	var buf bytes.Buffer
	n := &WriterNotifier{W: &buf, AngleEvery: 3}
	for i := 0; i < 7; i++ {
		n.Notify(angleEvent(time.Now(), orientation.ModeGyroOnly, float64(i)))
	}
	n.Notify(modeEvent(time.Now(), orientation.ModeIdle))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "0.0")
	assert.Contains(t, lines[1], "3.0")
	assert.Contains(t, lines[2], "6.0")
	assert.Equal(t, "[MODE] idle", lines[3])
}

func TestReplayCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_raw.csv")
	accel := []r3.Vector{{X: 0.1, Z: 1}, {X: 0.3, Z: 1}}
	gyro := []r3.Vector{{X: 1}, {X: 3}, {X: 5}}

	var raw bytes.Buffer
	require.NoError(t, export.WriteRaw(&raw, accel, gyro))
	require.NoError(t, os.WriteFile(path, raw.Bytes(), 0o644))

	var out bytes.Buffer
	res, err := ReplayCalibration(path, &out)
	require.NoError(t, err)

	// the raw file holds min(len) rows
	assert.Equal(t, 2, res.Accel.Samples)
	assert.Equal(t, 2, res.Gyro.Samples)
	assert.InDelta(t, 0.2, res.Accel.Bias.X, 1e-6)
	assert.InDelta(t, 2, res.Gyro.Bias.X, 1e-6)
	assert.InDelta(t, 1, res.Gyro.Variance.X, 1e-6)

	assert.Contains(t, out.String(), "variance")
	assert.Contains(t, out.String(), "gyro")
}

func TestReplayCalibrationMissingFile(t *testing.T) {
	_, err := ReplayCalibration(filepath.Join(t.TempDir(), "nope.csv"), &bytes.Buffer{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunCalibrationWithMockSensor(t *testing.T) {
	cfg := config.Default()
	cfg.ExportDir = t.TempDir()

	var out bytes.Buffer
	res, err := RunCalibration(context.Background(), cfg, 1, &out, zap.NewNop().Sugar())
	require.NoError(t, err)

	assert.Positive(t, res.Accel.Samples)
	assert.Positive(t, res.Gyro.Samples)
	assert.NotEmpty(t, res.SessionID)
	assert.Contains(t, out.String(), "exported to "+cfg.ExportDir)

	files, err := filepath.Glob(filepath.Join(cfg.ExportDir, "*_results.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

type seqReader struct {
	mu sync.Mutex
	n  int
}

func (r *seqReader) Read() (imu.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	if r.n == 2 {
		return imu.Reading{}, errors.New("spi timeout")
	}
	return imu.Reading{Az: 1, Gx: float64(r.n)}, nil
}

func TestProducePublishesReadings(t *testing.T) {
	clk := clock.NewMock()
	pub := newFakePublisher()
	ctx, cancel := context.WithCancel(context.Background())

	ticker := clk.Ticker(10 * time.Millisecond)
	done := make(chan error, 1)
	go func() {
		done <- produce(ctx, &seqReader{}, pub, "tilt/imu", ticker, zap.NewNop().Sugar())
	}()

	var got []imu.Reading
	for len(got) < 2 {
		clk.Add(10 * time.Millisecond)
		select {
		case msg := <-pub.ch:
			assert.Equal(t, "tilt/imu", msg.topic)
			var r imu.Reading
			require.NoError(t, json.Unmarshal(msg.payload, &r))
			got = append(got, r)
		case <-time.After(50 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-done)

	// the second read failed and was skipped
	assert.Equal(t, 1.0, got[0].Gx)
	assert.Equal(t, 3.0, got[1].Gx)
}
