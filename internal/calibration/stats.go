package calibration

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/tilt_sensor/internal/imu"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("calibration: session already running")
	// ErrInsufficientData means a channel collected no samples.
	ErrInsufficientData = errors.New("calibration: insufficient data")
	// ErrCanceled is carried by the completion of a cancelled session.
	ErrCanceled = errors.New("calibration: canceled")
)

// Stats is the bias (mean) and population variance of one channel.
type Stats struct {
	Bias     r3.Vector `json:"bias"`
	Variance r3.Vector `json:"variance"`
	Samples  int       `json:"samples"`
}

// Result is the outcome of one calibration session.
type Result struct {
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Accel Stats `json:"accel"`
	Gyro  Stats `json:"gyro"`
}

func (r Result) AccelBias() r3.Vector     { return r.Accel.Bias }
func (r Result) AccelVariance() r3.Vector { return r.Accel.Variance }
func (r Result) GyroBias() r3.Vector      { return r.Gyro.Bias }
func (r Result) GyroVariance() r3.Vector  { return r.Gyro.Variance }

// ComputeStats derives per-axis mean and population variance (divide by N).
// Each axis is centred on its own mean.
func ComputeStats(ch imu.Channel, samples []r3.Vector) (Stats, error) {
	n := len(samples)
	if n == 0 {
		undefined := r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
		return Stats{Bias: undefined, Variance: undefined},
			fmt.Errorf("%w: no %s samples", ErrInsufficientData, ch)
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	for i, s := range samples {
		xs[i], ys[i], zs[i] = s.X, s.Y, s.Z
	}

	st := Stats{Samples: n}
	st.Bias.X, st.Variance.X = popMeanVariance(xs)
	st.Bias.Y, st.Variance.Y = popMeanVariance(ys)
	st.Bias.Z, st.Variance.Z = popMeanVariance(zs)
	return st, nil
}

// popMeanVariance clamps the compensated variance at zero; rounding can
// otherwise leave it a few ulps negative for constant input.
func popMeanVariance(x []float64) (mean, variance float64) {
	mean, variance = stat.PopMeanVariance(x, nil)
	return mean, math.Max(0, variance)
}

// Compute calibrates both channels independently. Buffers may differ in
// length. Any empty channel yields ErrInsufficientData and NaN stats for
// that channel; the other channel's stats are still filled in.
func Compute(accel, gyro []r3.Vector) (Result, error) {
	var res Result
	var errs []error

	a, err := ComputeStats(imu.Accel, accel)
	if err != nil {
		errs = append(errs, err)
	}
	res.Accel = a

	g, err := ComputeStats(imu.Gyro, gyro)
	if err != nil {
		errs = append(errs, err)
	}
	res.Gyro = g

	return res, errors.Join(errs...)
}
