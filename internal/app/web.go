package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/calibration"
	"github.com/relabs-tech/tilt_sensor/internal/orientation"
)

type angleResponse struct {
	Angle float64   `json:"angle"`
	Mode  string    `json:"mode"`
	Time  time.Time `json:"time"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler serves the JSON API and the event WebSocket:
//
//	GET  /api/angle
//	GET  /api/state
//	POST /api/calibrate?duration=N
//	POST /api/calibrate/cancel
//	POST /api/mode/{mode}        acc, gyr, fusion, stop
//	GET  /ws
func NewHandler(a *App, hub *Hub, logger *zap.SugaredLogger) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/angle", func(w http.ResponseWriter, r *http.Request) {
		angle, at, ok := a.Angle()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, logger, http.StatusOK, angleResponse{
			Angle: angle,
			Mode:  a.Status().Fusion.Mode.String(),
			Time:  at,
		})
	})

	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, a.Status())
	})

	mux.HandleFunc("POST /api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		d := a.DefaultCalibrationDuration()
		if s := r.URL.Query().Get("duration"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil {
				writeJSON(w, logger, http.StatusBadRequest, errorResponse{fmt.Sprintf("invalid duration %q", s)})
				return
			}
			d = v
		}
		if err := a.StartCalibration(d); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, calibration.ErrAlreadyRunning) {
				status = http.StatusConflict
			}
			writeJSON(w, logger, status, errorResponse{err.Error()})
			return
		}
		writeJSON(w, logger, http.StatusAccepted, map[string]int{"duration": d})
	})

	mux.HandleFunc("POST /api/calibrate/cancel", func(w http.ResponseWriter, r *http.Request) {
		a.CancelCalibration()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/mode/{mode}", func(w http.ResponseWriter, r *http.Request) {
		m, err := orientation.ParseMode(r.PathValue("mode"))
		if err != nil {
			writeJSON(w, logger, http.StatusBadRequest, errorResponse{err.Error()})
			return
		}
		if err := a.SetMode(m); err != nil {
			writeJSON(w, logger, http.StatusInternalServerError, errorResponse{err.Error()})
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"mode": m.String()})
	})

	if hub != nil {
		mux.Handle("GET /ws", hub)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, logger *zap.SugaredLogger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("json encode error", "error", err)
	}
}

// RunWeb serves h on port until ctx is cancelled.
func RunWeb(ctx context.Context, port int, h http.Handler, logger *zap.SugaredLogger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("web server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
