package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// MetricsHandler serves /metrics in Prometheus text exposition format,
// /stats as JSON and /healthz.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintln(w, s.metrics.JSON())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// serveMetrics runs the metrics HTTP server until ctx is done. An empty
// MetricsAddr disables it.
func (s *Server) serveMetrics(ctx context.Context) error {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	slog.Info("metrics HTTP listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: metrics http: %w", err)
	}
	return nil
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP gavel_uptime_seconds Server uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE gavel_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "gavel_uptime_seconds %f\n", uptime)

	write("gavel_connections_active", "Current active control connections.", "gauge",
		m.ActiveConnections.Load())
	write("gavel_connections_total", "Lifetime TCP control connections accepted.", "counter",
		m.TotalConnections.Load())
	write("gavel_connections_banned_total", "Connections refused by an active ban.", "counter",
		m.RejectedBanned.Load())
	write("gavel_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("gavel_ooc_messages_total", "OOC messages relayed.", "counter",
		m.OOCMessages.Load())
	write("gavel_ic_messages_total", "IC messages relayed.", "counter",
		m.ICMessages.Load())
	write("gavel_ic_dropped_total", "IC messages refused.", "counter",
		m.ICDropped.Load())
	write("gavel_testimony_statements_total", "Testimony statements recorded.", "counter",
		m.Statements.Load())

	write("gavel_commands_total", "Slash commands dispatched.", "counter",
		m.Commands.Load())
	write("gavel_kicks_total", "Sessions kicked.", "counter",
		m.KickCount.Load())
	write("gavel_bans_total", "Bans issued.", "counter",
		m.BanCount.Load())
	write("gavel_unbans_total", "Bans lifted.", "counter",
		m.Unbans.Load())
	write("gavel_curses_total", "Area curses issued.", "counter",
		m.Curses.Load())
	write("gavel_mutes_total", "IC and OOC mutes applied.", "counter",
		m.Mutes.Load())
	write("gavel_denials_total", "Commands refused for lack of standing.", "counter",
		m.Denials.Load())
}
