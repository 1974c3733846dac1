// Package export writes calibration and measurement data as flat CSV files.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/tilt_sensor/internal/calibration"
	"github.com/relabs-tech/tilt_sensor/internal/imu"
)

var (
	RawHeader         = []string{"timestamp", "acc_x", "acc_y", "acc_z", "gyro_x", "gyro_y", "gyro_z"}
	ResultsHeader     = []string{"sensor", "axis", "bias", "variance"}
	MeasurementHeader = []string{"timestamp", "angle"}
)

// Measurement is one emitted angle, stamped relative to the start of its
// recording window.
type Measurement struct {
	Elapsed float64 // seconds
	Angle   float64 // degrees
}

func f4(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
func f6(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// full is the shortest representation that parses back to v.
func full(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteRaw writes paired accel/gyro rows. Rows run to the shorter of the two
// buffers; timestamps are index times the nominal sample period.
func WriteRaw(w io.Writer, accel, gyro []r3.Vector) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RawHeader); err != nil {
		return err
	}
	n := min(len(accel), len(gyro))
	for i := 0; i < n; i++ {
		a, g := accel[i], gyro[i]
		ts := float64(i) * imu.SamplePeriod.Seconds()
		row := []string{f4(ts), f6(a.X), f6(a.Y), f6(a.Z), f6(g.X), f6(g.Y), f6(g.Z)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteResults writes the six sensor/axis rows of a calibration result.
func WriteResults(w io.Writer, res calibration.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ResultsHeader); err != nil {
		return err
	}
	for _, s := range []struct {
		name  string
		stats calibration.Stats
	}{
		{"acc", res.Accel},
		{"gyro", res.Gyro},
	} {
		b, v := s.stats.Bias, s.stats.Variance
		rows := [][]string{
			{s.name, "x", full(b.X), full(v.X)},
			{s.name, "y", full(b.Y), full(v.Y)},
			{s.name, "z", full(b.Z), full(v.Z)},
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
	}
	return nil
}

// WriteMeasurement writes one recording window of angles.
func WriteMeasurement(w io.Writer, ms []Measurement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MeasurementHeader); err != nil {
		return err
	}
	for _, m := range ms {
		row := []string{
			strconv.FormatFloat(m.Elapsed, 'f', 3, 64),
			strconv.FormatFloat(m.Angle, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var errBadHeader = errors.New("export: unexpected raw header")

// ReadRaw parses a file produced by WriteRaw back into accel and gyro
// buffers of equal length.
func ReadRaw(r io.Reader) (accel, gyro []r3.Vector, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(RawHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("export: read raw header: %w", err)
	}
	for i, h := range RawHeader {
		if header[i] != h {
			return nil, nil, fmt.Errorf("%w: column %d is %q", errBadHeader, i, header[i])
		}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("export: read raw: %w", err)
		}
		var vals [6]float64
		for i := range vals {
			vals[i], err = strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("export: raw line %d column %s: %w", line, RawHeader[i+1], err)
			}
		}
		accel = append(accel, r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]})
		gyro = append(gyro, r3.Vector{X: vals[3], Y: vals[4], Z: vals[5]})
	}
	return accel, gyro, nil
}
