package ethstats

import (
	"context"
	"net"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewTransport connects to the collector and, if configured, to the
// snapshot archive.
func NewTransport(logger hclog.Logger, config *Config) (Transport, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	addr, err := config.collectorEndpoint()
	if err != nil {
		return nil, err
	}

	var archive *Archive
	if config.ArchiveEndpoint != "" {
		if archive, err = NewArchive(logger.Named("archive"), config.ArchiveEndpoint); err != nil {
			return nil, err
		}
		archive.InitCleanCRON(config.ArchiveRetentionDays)
		logger.Info("Snapshot archive enabled", "retention", config.ArchiveRetentionDays)
	}

	collector := newWsClient(logger.Named("collector"), addr)
	collector.start()
	logger.Info("Collector client started", "addr", addr)

	if archive == nil {
		return collector, nil
	}
	return newMultiTransport(collector, archive), nil
}

// Server exposes the agent status and metrics over http.
type Server struct {
	logger hclog.Logger
	agent  *Agent
	srv    *http.Server
	lis    net.Listener
}

func NewServer(logger hclog.Logger, addr string, agent *Agent, gatherer prometheus.Gatherer) (*Server, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		logger: logger,
		agent:  agent,
		lis:    lis,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/info", s.getInfo)
	mux.HandleFunc("/stats", s.getStats)
	mux.HandleFunc("/blocks", s.getBlocks)
	mux.HandleFunc("/block", s.getBlock)

	s.srv = &http.Server{
		Handler: mux,
	}
	go func() {
		if err := s.srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.logger.Error("error shutting down server", "err", err)
		}
	}()

	s.logger.Info("Status server started", "addr", lis.Addr().String())
	return s, nil
}

func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

func (s *Server) Close() error {
	return s.srv.Shutdown(context.Background())
}
