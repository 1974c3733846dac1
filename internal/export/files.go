package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/calibration"
)

// PrefixLayout stamps calibration exports, e.g. 20260314_093015_raw.csv.
const PrefixLayout = "20060102_150405"

// Dir writes export files into a directory.
type Dir struct {
	path   string
	clock  clock.Clock
	logger *zap.SugaredLogger
}

// NewDir returns an exporter rooted at path. The directory is created on
// first write.
func NewDir(path string, clk clock.Clock, logger *zap.SugaredLogger) *Dir {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dir{path: path, clock: clk, logger: logger}
}

func (d *Dir) Path() string { return d.path }

// resultRecord is the JSON companion of the results CSV.
type resultRecord struct {
	SessionID     string    `json:"session_id"`
	StartedAt     string    `json:"started_at"`
	CompletedAt   string    `json:"completed_at"`
	AccelSamples  int       `json:"accel_samples"`
	GyroSamples   int       `json:"gyro_samples"`
	AccelBias     r3.Vector `json:"accel_bias"`
	AccelVariance r3.Vector `json:"accel_variance"`
	GyroBias      r3.Vector `json:"gyro_bias"`
	GyroVariance  r3.Vector `json:"gyro_variance"`
}

// SaveCalibration writes <prefix>_raw.csv, <prefix>_results.csv and
// <prefix>_results.json. Every file is attempted; failures are combined.
func (d *Dir) SaveCalibration(accel, gyro []r3.Vector, res calibration.Result) error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("export: create %s: %w", d.path, err)
	}
	prefix := d.clock.Now().Format(PrefixLayout)

	var err error
	err = multierr.Append(err, d.writeFile(prefix+"_raw.csv", func(w io.Writer) error {
		return WriteRaw(w, accel, gyro)
	}))
	err = multierr.Append(err, d.writeFile(prefix+"_results.csv", func(w io.Writer) error {
		return WriteResults(w, res)
	}))
	err = multierr.Append(err, d.writeFile(prefix+"_results.json", func(w io.Writer) error {
		rec := resultRecord{
			SessionID:     res.SessionID,
			StartedAt:     res.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			CompletedAt:   res.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			AccelSamples:  res.Accel.Samples,
			GyroSamples:   res.Gyro.Samples,
			AccelBias:     res.Accel.Bias,
			AccelVariance: res.Accel.Variance,
			GyroBias:      res.Gyro.Bias,
			GyroVariance:  res.Gyro.Variance,
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}))
	if err == nil {
		d.logger.Infow("export: calibration saved", "dir", d.path, "prefix", prefix)
	}
	return err
}

// SaveMeasurement writes <unix seconds>_<mode>.csv and returns its path.
func (d *Dir) SaveMeasurement(mode string, ms []Measurement) (string, error) {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return "", fmt.Errorf("export: create %s: %w", d.path, err)
	}
	name := fmt.Sprintf("%d_%s.csv", d.clock.Now().Unix(), mode)
	if err := d.writeFile(name, func(w io.Writer) error { return WriteMeasurement(w, ms) }); err != nil {
		return "", err
	}
	path := filepath.Join(d.path, name)
	d.logger.Infow("export: measurement saved", "file", path, "rows", len(ms))
	return path, nil
}

func (d *Dir) writeFile(name string, fill func(io.Writer) error) (err error) {
	path := filepath.Join(d.path, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	if err := fill(f); err != nil {
		return fmt.Errorf("export: write %s: %w", name, err)
	}
	return nil
}
