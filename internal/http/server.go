// Package http serves the released identity keys of a slot authority.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/handlers"
	clock "github.com/jonboulle/clockwork"
	json "github.com/nikkolasg/hexjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ideal-lab5/etf-cli/common/chain"
	"github.com/ideal-lab5/etf-cli/common/log"
	"github.com/ideal-lab5/etf-cli/internal/metrics"
	"github.com/ideal-lab5/etf-cli/internal/slot"
	"github.com/ideal-lab5/etf-cli/key"
)

// immutableMaxAge is how long a released key may be cached for.
const immutableMaxAge = 7 * 24 * time.Hour

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock slots are released against.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithLogger sets the server logger.
func WithLogger(l log.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics exposes the HTTP registry under /metrics.
func WithMetrics() Option {
	return func(s *Server) {
		s.metrics = true
	}
}

// WithAccessLog writes an access log in combined log format to w.
func WithAccessLog(w io.Writer) Option {
	return func(s *Server) {
		s.accessLog = w
	}
}

// Server hands out the identity key of every slot whose release time is
// reached.
type Server struct {
	authority *key.Authority
	schedule  *slot.Schedule
	info      *chain.Info
	infoJSON  []byte

	clock     clock.Clock
	log       log.Logger
	metrics   bool
	accessLog io.Writer
}

// New creates a slot server for the given authority and schedule.
func New(a *key.Authority, s *slot.Schedule, opts ...Option) (*Server, error) {
	if a == nil || a.Public == nil {
		return nil, errors.New("no authority")
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	info := chain.NewInfo(a.Public, s)
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		authority: a,
		schedule:  s,
		info:      info,
		infoJSON:  raw,
		clock:     clock.NewRealClock(),
		log:       log.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.log = srv.log.Named("http")
	if srv.metrics {
		metrics.Bind(srv.log)
	}
	return srv, nil
}

// Info returns the public information served under /info.
func (s *Server) Info() *chain.Info {
	return s.info
}

// Handler returns the instrumented router of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/info", s.getInfo)
	r.Get("/health", s.getHealth)
	r.Route("/slots", func(r chi.Router) {
		r.Get("/latest", s.getLatest)
		r.Get("/{round}", s.getSlot)
	})
	if s.metrics {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.HTTPMetrics, promhttp.HandlerOpts{Registry: metrics.HTTPMetrics}))
	}

	var h http.Handler = promhttp.InstrumentHandlerCounter(
		metrics.HTTPCallCounter,
		promhttp.InstrumentHandlerDuration(
			metrics.HTTPLatency,
			promhttp.InstrumentHandlerInFlight(metrics.HTTPInFlight, r)))
	if s.accessLog != nil {
		h = handlers.CombinedLoggingHandler(s.accessLog, h)
	}
	return h
}

// Serve serves the handler on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 3 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()
	s.log.Infow("slot server started", "addr", l.Addr().String(), "info", s.info.HashString())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

// ListenAndServe listens on bind and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, bind string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", bind)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) getInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	http.ServeContent(w, r, "info.json", time.Unix(s.info.GenesisTime, 0), bytes.NewReader(s.infoJSON))
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"current": s.schedule.CurrentRound(s.clock.Now()),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLatest(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	round := s.schedule.CurrentRound(now)
	if round == 0 {
		s.tooEarly(w, r, 1, now)
		return
	}
	_, next := s.schedule.NextRound(now)
	remaining := next.Sub(now)
	seconds := int(math.Ceil(remaining.Seconds()))
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", max(seconds, 0)))
	w.Header().Set("Expires", next.UTC().Format(http.TimeFormat))
	s.serveKey(w, round)
}

func (s *Server) getSlot(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil || round == 0 {
		s.log.Debugw("invalid round requested", "path", r.URL.Path)
		http.Error(w, "invalid round", http.StatusBadRequest)
		return
	}
	now := s.clock.Now()
	if !s.schedule.Released(now, round) {
		s.tooEarly(w, r, round, now)
		return
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", int(immutableMaxAge.Seconds())))
	s.serveKey(w, round)
}

func (s *Server) tooEarly(w http.ResponseWriter, r *http.Request, round uint64, now time.Time) {
	metrics.SlotTooEarly.Inc()
	release := s.schedule.ReleaseTime(round)
	wait := int(math.Ceil(release.Sub(now).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(wait, 1)))
	w.Header().Set("Cache-Control", "no-store")
	s.log.Debugw("slot not released", "path", r.URL.Path, "round", round, "release", release)
	http.Error(w, fmt.Sprintf("slot %d released at %s", round, release.UTC().Format(time.RFC3339)), http.StatusTooEarly)
}

func (s *Server) serveKey(w http.ResponseWriter, round uint64) {
	id := s.schedule.Identity(round)
	d, err := s.authority.DeriveKey(id).MarshalBinary()
	if err != nil {
		s.log.Errorw("unable to marshal identity key", "round", round, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	metrics.SlotKeysServed.Inc()
	s.writeJSON(w, http.StatusOK, &chain.SlotKey{Round: round, Identity: string(id), Key: d})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Errorw("unable to encode response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(raw)
}
