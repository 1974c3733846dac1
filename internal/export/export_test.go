package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tilt_sensor/internal/calibration"
)

func TestWriteRawFormatting(t *testing.T) {
	accel := []r3.Vector{{X: 0.1, Y: -0.2, Z: 1}, {X: 0, Y: 0, Z: 0.9999999}, {Z: 5}}
	gyro := []r3.Vector{{X: 0.001, Y: 0.002, Z: -0.003}, {}}

	var buf bytes.Buffer
	require.NoError(t, WriteRaw(&buf, accel, gyro))

	want := "timestamp,acc_x,acc_y,acc_z,gyro_x,gyro_y,gyro_z\n" +
		"0.0000,0.100000,-0.200000,1.000000,0.001000,0.002000,-0.003000\n" +
		"0.0100,0.000000,0.000000,1.000000,0.000000,0.000000,0.000000\n"
	assert.Equal(t, want, buf.String())
}

func TestRawRoundTrip(t *testing.T) {
	var accel, gyro []r3.Vector
	for i := 0; i < 250; i++ {
		f := float64(i)
		accel = append(accel, r3.Vector{X: math.Sin(f) * 0.01, Y: math.Cos(f) * 0.02, Z: 1 + f*1e-5})
	}
	for i := 0; i < 240; i++ {
		f := float64(i)
		gyro = append(gyro, r3.Vector{X: f * 1e-4, Y: -f * 2e-4, Z: 0.5})
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRaw(&buf, accel, gyro))

	gotA, gotG, err := ReadRaw(&buf)
	require.NoError(t, err)
	require.Len(t, gotA, 240)
	require.Len(t, gotG, 240)

	within := cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) <= 5e-7 })
	if diff := cmp.Diff(accel[:240], gotA, within); diff != "" {
		t.Errorf("accel mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(gyro, gotG, within); diff != "" {
		t.Errorf("gyro mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRawRejectsForeignHeader(t *testing.T) {
	_, _, err := ReadRaw(strings.NewReader("a,b,c,d,e,f,g\n"))
	assert.ErrorIs(t, err, errBadHeader)

	_, _, err = ReadRaw(strings.NewReader(strings.Join(RawHeader, ",") + "\n0.0000,x,0,0,0,0,0\n"))
	assert.ErrorContains(t, err, "acc_x")
}

func sampleResult() calibration.Result {
	return calibration.Result{
		SessionID: "s-1",
		Accel: calibration.Stats{
			Bias:     r3.Vector{X: 0.1, Y: -0.25, Z: 1.0000001},
			Variance: r3.Vector{X: 1e-6, Y: 2e-6, Z: 3e-6},
			Samples:  10,
		},
		Gyro: calibration.Stats{
			Bias:     r3.Vector{X: 0.001, Y: 0, Z: -0.002},
			Variance: r3.Vector{X: 1.5e-8},
			Samples:  9,
		},
	}
}

func TestWriteResults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, sampleResult()))

	want := "sensor,axis,bias,variance\n" +
		"acc,x,0.1,1e-06\n" +
		"acc,y,-0.25,2e-06\n" +
		"acc,z,1.0000001,3e-06\n" +
		"gyro,x,0.001,1.5e-08\n" +
		"gyro,y,0,0\n" +
		"gyro,z,-0.002,0\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteMeasurement(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMeasurement(&buf, []Measurement{{0.0104, 1.234}, {1.5, -45.678}}))
	assert.Equal(t, "timestamp,angle\n0.010,1.23\n1.500,-45.68\n", buf.String())
}

func TestDirSaveCalibration(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 14, 9, 30, 15, 0, time.Local))
	dir := filepath.Join(t.TempDir(), "data")
	d := NewDir(dir, clk, nil)

	res := sampleResult()
	require.NoError(t, d.SaveCalibration([]r3.Vector{{Z: 1}}, []r3.Vector{{X: 0.1}}, res))

	raw, err := os.ReadFile(filepath.Join(dir, "20260314_093015_raw.csv"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "\n"))

	_, err = os.Stat(filepath.Join(dir, "20260314_093015_results.csv"))
	require.NoError(t, err)

	js, err := os.ReadFile(filepath.Join(dir, "20260314_093015_results.json"))
	require.NoError(t, err)
	var rec resultRecord
	require.NoError(t, json.Unmarshal(js, &rec))
	assert.Equal(t, "s-1", rec.SessionID)
	assert.Equal(t, res.Gyro.Bias, rec.GyroBias)
	assert.Equal(t, 10, rec.AccelSamples)
}

func TestDirSaveCalibrationUnwritable(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	d := NewDir(filepath.Join(blocker, "sub"), clock.NewMock(), nil)
	err := d.SaveCalibration(nil, nil, sampleResult())
	assert.Error(t, err)
}

func TestDirSaveMeasurementName(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))
	d := NewDir(t.TempDir(), clk, nil)

	path, err := d.SaveMeasurement("fusion", []Measurement{{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, "1700000000_fusion.csv", filepath.Base(path))
}

type fakeSink struct {
	mu    sync.Mutex
	saved chan []Measurement
	modes []string
	err   error
}

func newFakeSink() *fakeSink { return &fakeSink{saved: make(chan []Measurement, 8)} }

func (f *fakeSink) SaveMeasurement(mode string, ms []Measurement) (string, error) {
	f.mu.Lock()
	f.modes = append(f.modes, mode)
	f.mu.Unlock()
	f.saved <- ms
	return mode + ".csv", f.err
}

func (f *fakeSink) next(t *testing.T) []Measurement {
	t.Helper()
	select {
	case ms := <-f.saved:
		return ms
	case <-time.After(2 * time.Second):
		t.Fatal("no window saved")
		return nil
	}
}

func TestRecorderWritesEachWindow(t *testing.T) {
	clk := clock.NewMock()
	sink := newFakeSink()
	r := NewRecorder(sink, time.Minute, clk, nil)

	r.Record(99) // idle, dropped
	r.Start("acc")
	clk.Add(500 * time.Millisecond)
	r.Record(1.5)
	clk.Add(time.Second)
	r.Record(2.5)

	clk.Add(time.Minute)
	ms := sink.next(t)
	require.Len(t, ms, 2)
	assert.InDelta(t, 0.5, ms[0].Elapsed, 1e-9)
	assert.InDelta(t, 1.5, ms[1].Elapsed, 1e-9)
	assert.Equal(t, 2.5, ms[1].Angle)

	// the sink is called after the next window opened
	r.Record(3)
	clk.Add(time.Minute)
	ms = sink.next(t)
	require.NotEmpty(t, ms)
	assert.Equal(t, 3.0, ms[0].Angle)
	assert.Equal(t, []string{"acc", "acc"}, sink.modes)
}

func TestRecorderModeSwitchDiscardsWindow(t *testing.T) {
	clk := clock.NewMock()
	sink := newFakeSink()
	r := NewRecorder(sink, time.Minute, clk, nil)

	r.Start("acc")
	r.Record(1)
	clk.Add(30 * time.Second)
	r.Start("gyr")
	assert.Equal(t, "gyr", r.Mode())
	r.Record(2)

	clk.Add(30 * time.Second)
	assert.Empty(t, sink.saved, "old window timer must not fire")

	clk.Add(30 * time.Second)
	ms := sink.next(t)
	require.Len(t, ms, 1)
	assert.Equal(t, 2.0, ms[0].Angle)
}

func TestRecorderStop(t *testing.T) {
	clk := clock.NewMock()
	sink := newFakeSink()
	sink.err = errors.New("disk full")
	r := NewRecorder(sink, time.Minute, clk, nil)

	r.Start("fusion")
	r.Record(1)
	r.Stop()
	r.Record(2)
	assert.Equal(t, "", r.Mode())

	clk.Add(2 * time.Minute)
	assert.Empty(t, sink.saved)
}
