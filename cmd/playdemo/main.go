// Command playdemo loads a fragmented MP4 file through the MSE-shaped
// pipeline (mediasource -> sourcebuffer -> trackbuffer -> scheduler ->
// element) and serves a small debug/control HTTP API plus Prometheus
// metrics, grounded on cmd/prism/main.go's slog/signal/errgroup shutdown
// skeleton and internal/distribution/server.go's JSON debug-endpoint style.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/msecore/codec"
	"github.com/zsiec/msecore/element"
	"github.com/zsiec/msecore/mediasource"
	"github.com/zsiec/msecore/playerr"
	"github.com/zsiec/msecore/scheduler"
)

func main() {
	var (
		addr = flag.String("addr", envOr("ADDR", ":8089"), "debug API listen address")
		file = flag.String("file", "", "path to a fragmented MP4 file (ftyp+moov followed by moof+mdat pairs)")
		tick = flag.Duration("tick", 40*time.Millisecond, "animation-tick interval")
	)
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *file == "" {
		log.Error("missing -file")
		os.Exit(1)
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		log.Error("reading input file", "error", err)
		os.Exit(1)
	}

	a, err := newApp(log)
	if err != nil {
		log.Error("building app", "error", err)
		os.Exit(1)
	}
	if err := a.load(data); err != nil {
		log.Error("loading media", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	httpSrv := &http.Server{
		Addr:    *addr,
		Handler: a.routes(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.sched.Run(ctx, *tick) })

	g.Go(func() error {
		log.Info("debug API listening", "addr", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	log   *slog.Logger
	ms    *mediasource.MediaSource
	el    *element.MediaElement
	sched *scheduler.Scheduler
}

func newApp(log *slog.Logger) (*app, error) {
	vd := newPassthroughVideoDecoder(log)
	ad := newPassthroughAudioDecoder(log)
	mx := newLoggingMixer(log)
	pr := newLoggingPresenter(log)

	sched := scheduler.New(vd, ad, mx, pr, log)
	el := element.New(sched, log)
	ms := mediasource.New(codec.DefaultSupport(), log)

	if err := el.SetSrcObject(ms); err != nil {
		return nil, fmt.Errorf("attach media source: %w", err)
	}
	return &app{log: log, ms: ms, el: el, sched: sched}, nil
}

// load feeds the whole file through a single source buffer in one
// appendBuffer call: the demo's input is a complete, already-assembled
// fmp4 file rather than a live fetch/ABR feed (that layer is out of scope,
// per the engine's "out of scope" collaborators).
func (a *app) load(data []byte) error {
	sb, err := a.ms.AddSourceBuffer(`video/mp4; codecs="avc1.640028,mp4a.40.2"`)
	if err != nil {
		return fmt.Errorf("addSourceBuffer: %w", err)
	}
	if err := sb.AppendBuffer(data); err != nil {
		return fmt.Errorf("appendBuffer: %w", err)
	}
	return a.ms.EndOfStream(playerr.EOSNone)
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/state", a.handleState)
	r.Post("/api/play", a.handlePlay)
	r.Post("/api/pause", a.handlePause)
	r.Post("/api/seek", a.handleSeek)
	r.Post("/api/rate", a.handleRate)

	return r
}

type stateResponse struct {
	CurrentTime  float64 `json:"currentTime"`
	Duration     float64 `json:"duration"`
	Paused       bool    `json:"paused"`
	Ended        bool    `json:"ended"`
	Seeking      bool    `json:"seeking"`
	ReadyState   string  `json:"readyState"`
	PlaybackRate float64 `json:"playbackRate"`
	Volume       float64 `json:"volume"`
	Muted        bool    `json:"muted"`
	VideoWidth   int     `json:"videoWidth"`
	VideoHeight  int     `json:"videoHeight"`
}

func (a *app) handleState(w http.ResponseWriter, r *http.Request) {
	vw, vh := a.el.VideoWidth(), a.el.VideoHeight()
	writeJSON(w, http.StatusOK, stateResponse{
		CurrentTime:  a.el.CurrentTime(),
		Duration:     a.el.Duration(),
		Paused:       a.el.Paused(),
		Ended:        a.el.Ended(),
		Seeking:      a.el.Seeking(),
		ReadyState:   a.el.ReadyState().String(),
		PlaybackRate: a.el.PlaybackRate(),
		Volume:       a.el.Volume(),
		Muted:        a.el.Muted(),
		VideoWidth:   vw,
		VideoHeight:  vh,
	})
}

func (a *app) handlePlay(w http.ResponseWriter, r *http.Request) {
	a.el.Play()
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handlePause(w http.ResponseWriter, r *http.Request) {
	a.el.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Time float64 `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.el.SetCurrentTime(body.Time)
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.el.SetPlaybackRate(body.Rate)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
