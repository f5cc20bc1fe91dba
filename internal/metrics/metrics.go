package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Enforcement metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wardend_enforcement_ticks_total",
			Help: "Total enforcement sweeps executed",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wardend_enforcement_tick_duration_seconds",
			Help:    "Enforcement sweep duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	TerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardend_terminations_total",
			Help: "Total process terminations issued",
		},
		[]string{"application", "reason"},
	)

	TerminationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardend_termination_errors_total",
			Help: "Process termination failures",
		},
		[]string{"application"},
	)

	LockRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardend_lock_requests_total",
			Help: "Workstation lock requests issued",
		},
		[]string{"reason"},
	)

	// Session metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wardend_sessions_started_total",
			Help: "Usage sessions started",
		},
	)

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardend_sessions_ended_total",
			Help: "Usage sessions ended",
		},
		[]string{"reason"},
	)

	SessionsDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wardend_sessions_denied_total",
			Help: "Session starts refused by schedule",
		},
	)

	// Blocklist metrics
	WebsitesBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardend_websites_blocked_total",
			Help: "Website block operations applied",
		},
		[]string{"category"},
	)

	WebsitesUnblocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wardend_websites_unblocked_total",
			Help: "Website unblock operations applied",
		},
	)

	MonitoredApplications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wardend_monitored_applications",
			Help: "Number of monitored applications",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TicksTotal,
		TickDuration,
		TerminationsTotal,
		TerminationErrors,
		LockRequestsTotal,
		SessionsStarted,
		SessionsEnded,
		SessionsDenied,
		WebsitesBlocked,
		WebsitesUnblocked,
		MonitoredApplications,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
