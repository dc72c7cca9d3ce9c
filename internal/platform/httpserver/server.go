package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	voterecorder "ballotbox/contexts/election/vote-recorder"
	recordererrors "ballotbox/contexts/election/vote-recorder/domain/errors"
	recorderhttp "ballotbox/contexts/election/vote-recorder/transport/http"
	_ "ballotbox/internal/platform/httpserver/docs"

	httpSwagger "github.com/swaggo/http-swagger"
)

type Server struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	addr     string
	recorder voterecorder.Module
	http     *http.Server
}

func New(recorder voterecorder.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:      http.NewServeMux(),
		logger:   logger,
		addr:     addr,
		recorder: recorder,
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server stopping",
			"event", "http_server_stopping",
			"module", "internal/platform/httpserver",
			"layer", "platform",
		)
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /v1/elections/{election_id}/tally", s.handleElectionTally)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleElectionTally godoc
// @Summary      Election tally
// @Description  Per-choice vote counts recorded in the ledger for one election.
// @Tags         elections
// @Produce      json
// @Param        election_id  path      int  true  "Election ID"
// @Success      200  {object}  recorderhttp.TallyResponse
// @Failure      400  {object}  recorderhttp.ErrorResponse
// @Failure      500  {object}  recorderhttp.ErrorResponse
// @Router       /v1/elections/{election_id}/tally [get]
func (s *Server) handleElectionTally(w http.ResponseWriter, r *http.Request) {
	electionID, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("election_id")), 10, 64)
	if err != nil {
		writeRecorderError(w, http.StatusBadRequest, "invalid_election_id", "election_id must be an integer")
		return
	}

	resp, err := s.recorder.Handler.ElectionTallyHandler(r.Context(), electionID)
	if err != nil {
		s.writeRecorderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeRecorderDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recordererrors.ErrInvalidElection):
		writeRecorderError(w, http.StatusBadRequest, "invalid_election_id", err.Error())
	default:
		s.logger.Error("tally request failed",
			"event", "http_tally_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"error", err.Error(),
		)
		writeRecorderError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeRecorderError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, recorderhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
