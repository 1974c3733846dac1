package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/calibration"
	"github.com/relabs-tech/tilt_sensor/internal/config"
	"github.com/relabs-tech/tilt_sensor/internal/export"
	"github.com/relabs-tech/tilt_sensor/internal/orientation"
	"github.com/relabs-tech/tilt_sensor/internal/sensors"
)

// WriterNotifier prints events as console lines. Only every AngleEvery-th
// angle is printed (all of them when AngleEvery <= 1).
type WriterNotifier struct {
	W          io.Writer
	AngleEvery int

	mu     sync.Mutex
	angles int
}

func (n *WriterNotifier) Notify(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ev.Type == EventAngle && n.AngleEvery > 1 {
		n.angles++
		if n.angles%n.AngleEvery != 1 {
			return
		}
	}
	fmt.Fprintln(n.W, formatEvent(ev))
}

// session is a connected broker plus an open feed.
type session struct {
	client  mqtt.Client
	feed    sensors.Feed
	cleanup func()
}

func (s *session) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

func openSession(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zap.SugaredLogger) (*session, error) {
	client, err := ConnectMQTT(cfg, cfg.MQTTClientID, logger)
	if err != nil {
		return nil, err
	}
	feed, cleanup, err := OpenFeed(ctx, cfg, client, clk, logger.Named("feed"))
	if err != nil {
		if client != nil {
			client.Disconnect(250)
		}
		return nil, err
	}
	return &session{client: client, feed: feed, cleanup: cleanup}, nil
}

// RunService runs the tilt service: the selected fusion mode, MQTT
// notifications when a broker is configured and the web API when
// WEB_SERVER_PORT is set. It returns when ctx is done.
func RunService(ctx context.Context, cfg *config.Config, mode orientation.Mode, logger *zap.SugaredLogger) error {
	clk := clock.New()
	s, err := openSession(ctx, cfg, clk, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	hub := NewHub(nil, logger.Named("ws"))
	opts := []Option{
		WithClock(clk),
		WithLogger(logger),
		WithNotifier(LogNotifier{Logger: logger.Named("events")}),
		WithNotifier(hub),
	}
	if s.client != nil {
		opts = append(opts, WithNotifier(NewMQTTNotifier(s.client, cfg.TopicAngle, cfg.TopicCalibration, logger.Named("mqtt"))))
	}
	a := New(cfg, s.feed, opts...)
	defer a.Close()
	hub.SetController(a)
	defer hub.Close()

	if err := a.SetMode(mode); err != nil {
		return err
	}

	if cfg.WebServerPort == 0 {
		<-ctx.Done()
		return nil
	}
	return RunWeb(ctx, cfg.WebServerPort, NewHandler(a, hub, logger.Named("web")), logger)
}

// RunConsole runs fusion locally and prints every tenth angle to out.
func RunConsole(ctx context.Context, cfg *config.Config, mode orientation.Mode, out io.Writer, logger *zap.SugaredLogger) error {
	clk := clock.New()
	s, err := openSession(ctx, cfg, clk, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	a := New(cfg, s.feed,
		WithClock(clk),
		WithLogger(logger),
		WithNotifier(&WriterNotifier{W: out, AngleEvery: 10}),
	)
	defer a.Close()
	if err := a.SetMode(mode); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

type completionWaiter chan Event

func (w completionWaiter) Notify(ev Event) {
	if ev.Type != EventComplete {
		return
	}
	select {
	case w <- ev:
	default:
	}
}

// RunCalibration runs one calibration session against the configured source,
// exports it and prints the results table. Cancelling ctx cancels the session.
func RunCalibration(ctx context.Context, cfg *config.Config, durationSeconds int, out io.Writer, logger *zap.SugaredLogger) (calibration.Result, error) {
	clk := clock.New()
	s, err := openSession(ctx, cfg, clk, logger)
	if err != nil {
		return calibration.Result{}, err
	}
	defer s.Close()

	done := make(completionWaiter, 1)
	a := New(cfg, s.feed,
		WithClock(clk),
		WithLogger(logger),
		WithNotifier(&WriterNotifier{W: out}),
		WithNotifier(done),
	)
	defer a.Close()

	if durationSeconds <= 0 {
		durationSeconds = a.DefaultCalibrationDuration()
	}
	if err := a.StartCalibration(durationSeconds); err != nil {
		return calibration.Result{}, err
	}

	var ev Event
	select {
	case ev = <-done:
	case <-ctx.Done():
		a.CancelCalibration()
		ev = <-done
	}
	if ev.Result == nil {
		return calibration.Result{}, errors.New(ev.Error)
	}
	if err := PrintResults(out, *ev.Result); err != nil {
		return *ev.Result, err
	}
	if ev.ExportErr != "" {
		return *ev.Result, fmt.Errorf("export: %s", ev.ExportErr)
	}
	fmt.Fprintf(out, "exported to %s\n", cfg.ExportDir)
	return *ev.Result, nil
}

// ReplayCalibration recomputes the statistics of a saved _raw.csv file.
func ReplayCalibration(path string, out io.Writer) (res calibration.Result, err error) {
	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	accel, gyro, err := export.ReadRaw(f)
	if err != nil {
		return res, fmt.Errorf("replay %s: %w", path, err)
	}
	res, err = calibration.Compute(accel, gyro)
	if err != nil {
		return res, fmt.Errorf("replay %s: %w", path, err)
	}
	return res, PrintResults(out, res)
}

// PrintResults writes the bias and variance table of res.
func PrintResults(out io.Writer, res calibration.Result) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "sensor\taxis\tbias\tvariance\tsamples\t")
	for _, row := range []struct {
		name string
		st   calibration.Stats
	}{{"acc", res.Accel}, {"gyro", res.Gyro}} {
		fmt.Fprintf(tw, "%s\tx\t%.6f\t%.8f\t%d\t\n", row.name, row.st.Bias.X, row.st.Variance.X, row.st.Samples)
		fmt.Fprintf(tw, "%s\ty\t%.6f\t%.8f\t\t\n", row.name, row.st.Bias.Y, row.st.Variance.Y)
		fmt.Fprintf(tw, "%s\tz\t%.6f\t%.8f\t\t\n", row.name, row.st.Bias.Z, row.st.Variance.Z)
	}
	return tw.Flush()
}
