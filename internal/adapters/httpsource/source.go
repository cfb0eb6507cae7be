// Package httpsource provides a live payload source fed by HTTP pushes,
// one request per file.
package httpsource

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hepworks/histoship/internal/domain"
	"github.com/hepworks/histoship/internal/ports"
	"github.com/hepworks/histoship/pkg/log"
)

const (
	ingestEndpoint = "/v1/ingest/payloads"

	subsystemHeader = "X-Subsystem"
	filenameHeader  = "X-Filename"

	// maxPayloadBytes bounds a single request body.
	maxPayloadBytes = 256 << 20
)

// Source accepts POSTed payloads on a listen address. The subsystem and
// filename ride in headers; the body is the opaque payload. Each request is
// landed in staging before the response is written, so a 202 means the
// payload is durable and the pusher may discard its copy.
type Source struct {
	addr   string
	sink   ports.PayloadSink
	logger log.Logger
}

// New creates an HTTP push source listening on addr, feeding sink.
func New(addr string, sink ports.PayloadSink, logger log.Logger) *Source {
	return &Source{
		addr:   addr,
		sink:   sink,
		logger: logger,
	}
}

// Run serves until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(ingestEndpoint, s.handleIngest)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	s.logger.Info("payload ingest listening", log.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Source) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subsystem := r.Header.Get(subsystemHeader)
	filename := r.Header.Get(filenameHeader)
	if subsystem == "" || filename == "" {
		http.Error(w, "missing "+subsystemHeader+" or "+filenameHeader, http.StatusBadRequest)
		return
	}

	_, err := s.sink.Receive(subsystem, filename, http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, domain.ErrUnknownSubsystem), errors.Is(err, domain.ErrInvalidFilename):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &tooLarge):
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
	default:
		// Nothing was published; the pusher keeps its copy and retries.
		s.logger.Warn("failed to land pushed payload",
			log.String("file", filename), log.Err(err))
		http.Error(w, "payload not stored", http.StatusServiceUnavailable)
	}
}
