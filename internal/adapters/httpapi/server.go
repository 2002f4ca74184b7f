// Package httpapi exposes highlight queries, balances and manual job triggers
// over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"radish-rewards/internal/domain"
)

// Ledger is the part of the ledger service served over HTTP.
type Ledger interface {
	GetOrCreateBalance(ctx context.Context, userID int64) (domain.UserBalance, error)
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]domain.LedgerTransaction, error)
	ListBalanceChanges(ctx context.Context, userID int64, limit int) ([]domain.BalanceChangeLog, error)
	Transfer(ctx context.Context, req domain.TransferRequest) domain.TransferOutcome
	AdminAdjust(ctx context.Context, userID, delta int64, reason string, operatorID int64) domain.TransferOutcome
}

// Jobs triggers and inspects job runs.
type Jobs interface {
	RunRanking(ctx context.Context, statDate time.Time) (domain.RankingResult, error)
	RunRetention(ctx context.Context) (domain.RetentionResult, error)
	LastRun(ctx context.Context, job domain.JobName) (domain.JobRun, bool, error)
}

type Server struct {
	highlights domain.HighlightQueries
	ledger     Ledger
	jobs       Jobs
	loc        *time.Location
	log        zerolog.Logger
}

type Option func(*Server)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.loc = loc
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type transferRequest struct {
	FromUserID int64  `json:"from_user_id"`
	ToUserID   int64  `json:"to_user_id"`
	Amount     int64  `json:"amount"`
	Fee        int64  `json:"fee"`
	Note       string `json:"note"`
}

type adjustRequest struct {
	Delta      int64  `json:"delta"`
	Reason     string `json:"reason"`
	OperatorID int64  `json:"operator_id"`
}

type rankingRunRequest struct {
	StatDate string `json:"stat_date"`
}

func NewServer(highlights domain.HighlightQueries, ledger Ledger, jobs Jobs, opts ...Option) *Server {
	s := &Server{
		highlights: highlights,
		ledger:     ledger,
		jobs:       jobs,
		loc:        time.UTC,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API routes relative to their mount point.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/highlights/posts/{postID}/god-comments", s.handleGodComments)
	r.Get("/highlights/posts/{postID}/history", s.handleHistory)
	r.Get("/highlights/comments/{commentID}/sofas", s.handleSofas)
	r.Get("/highlights/comments/{commentID}", s.handleCommentHighlight)

	r.Get("/balances/{userID}", s.handleGetBalance)
	r.Get("/balances/{userID}/transactions", s.handleTransactions)
	r.Get("/balances/{userID}/changes", s.handleBalanceChanges)
	r.Post("/balances/{userID}/adjust", s.handleAdjust)
	r.Post("/transfers", s.handleTransfer)

	if s.jobs != nil {
		r.Post("/jobs/ranking/run", s.handleRunRanking)
		r.Post("/jobs/retention/run", s.handleRunRetention)
		r.Get("/jobs/{job}/last", s.handleLastRun)
	}
	return r
}

func (s *Server) handleGodComments(w http.ResponseWriter, r *http.Request) {
	s.listByKey(w, r, domain.HighlightGodComment, "postID")
}

func (s *Server) handleSofas(w http.ResponseWriter, r *http.Request) {
	s.listByKey(w, r, domain.HighlightSofa, "commentID")
}

func (s *Server) listByKey(w http.ResponseWriter, r *http.Request, kind domain.HighlightKind, param string) {
	id, ok := pathID(w, r, param)
	if !ok {
		return
	}
	records, err := s.highlights.ListCurrentByKey(r.Context(), domain.HighlightKey{Kind: kind, ID: id})
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCommentHighlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "commentID")
	if !ok {
		return
	}
	record, err := s.highlights.CurrentForComment(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrHighlightNotFound) {
			writeError(w, http.StatusNotFound, "highlight_not_found", "comment is not highlighted")
			return
		}
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "postID")
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	records, err := s.highlights.HistoryByPost(r.Context(), id, limit, offset)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	balance, err := s.ledger.GetOrCreateBalance(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	txs, err := s.ledger.ListTransactions(r.Context(), id, limit, offset)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleBalanceChanges(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	limit, _ := pageParams(r)
	changes, err := s.ledger.ListBalanceChanges(r.Context(), id, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	out := s.ledger.Transfer(r.Context(), domain.TransferRequest{
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Amount:     req.Amount,
		Fee:        req.Fee,
		Note:       req.Note,
	})
	writeOutcome(w, out)
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Reason == "" || req.OperatorID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "reason and operator_id are required")
		return
	}
	writeOutcome(w, s.ledger.AdminAdjust(r.Context(), id, req.Delta, req.Reason, req.OperatorID))
}

func (s *Server) handleRunRanking(w http.ResponseWriter, r *http.Request) {
	var req rankingRunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	statDate := time.Now().In(s.loc).AddDate(0, 0, -1)
	if req.StatDate != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, req.StatDate, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "stat_date must be YYYY-MM-DD")
			return
		}
		statDate = parsed
	}
	res, err := s.jobs.RunRanking(r.Context(), statDate)
	if s.jobError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRunRetention(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.RunRetention(r.Context())
	if s.jobError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	job := domain.JobName(chi.URLParam(r, "job"))
	if job != domain.JobRanking && job != domain.JobRetention {
		writeError(w, http.StatusNotFound, "job_not_found", "unknown job")
		return
	}
	run, ok, err := s.jobs.LastRun(r.Context(), job)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "run_not_found", "job has not run yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) jobError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrJobLocked):
		writeError(w, http.StatusConflict, "job_locked", "job is already running")
	default:
		s.internalError(w, err)
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("httpapi: request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func writeOutcome(w http.ResponseWriter, out domain.TransferOutcome) {
	if out.Success {
		writeJSON(w, http.StatusOK, out)
		return
	}
	status := http.StatusInternalServerError
	switch out.FailureReason {
	case domain.FailureInvalidRequest, domain.FailureInvalidAmount, domain.FailureSelfTransfer:
		status = http.StatusBadRequest
	case domain.FailureUserNotFound:
		status = http.StatusNotFound
	case domain.FailureInsufficientFunds, domain.FailureVersionConflict:
		status = http.StatusConflict
	}
	message := string(out.FailureReason)
	if out.Err != nil {
		message = out.Err.Error()
	}
	writeError(w, status, string(out.FailureReason), message)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+name)
		return 0, false
	}
	return id, true
}

func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
