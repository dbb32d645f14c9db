package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"civicledger/internal/identity"
	"civicledger/internal/ledger/export"
	ledgermetrics "civicledger/internal/ledger/metrics"
	"civicledger/internal/ledger/models"
	"civicledger/internal/ledger/query"
	"civicledger/internal/platform/middleware"
	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/httputil"
	"civicledger/pkg/requestcontext"
)

// VoteService submits votes.
type VoteService interface {
	SubmitVote(ctx context.Context, state identity.State, subjectID string, voteType models.VoteType) (*models.VoteRecord, error)
}

// QueryService reads the ledger.
type QueryService interface {
	Query(ctx context.Context, f query.Filter) []*models.VoteRecord
}

// StateReader snapshots a session's identity state.
type StateReader interface {
	State(ctx context.Context, sessionID string) (identity.State, error)
}

// Handler serves vote submission, ledger listing and exports.
type Handler struct {
	votes         VoteService
	queries       QueryService
	sessions      StateReader
	metrics       *ledgermetrics.Metrics
	exportKeyHash string
	logger        *slog.Logger
}

// New creates a ledger Handler. An empty exportKeyHash leaves exports open.
func New(votes VoteService, queries QueryService, sessions StateReader, metrics *ledgermetrics.Metrics, exportKeyHash string, logger *slog.Logger) *Handler {
	return &Handler{
		votes:         votes,
		queries:       queries,
		sessions:      sessions,
		metrics:       metrics,
		exportKeyHash: exportKeyHash,
		logger:        logger,
	}
}

// Register registers the ledger routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/votes", h.handleSubmitVote)
	r.Get("/ledger", h.handleListLedger)
	r.Get("/ledger/tally", h.handleTally)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireExportKey(h.exportKeyHash, h.logger))
		r.Get("/ledger/export.csv", h.handleExportCSV)
		r.Get("/ledger/export/report", h.handleExportReport)
	})
}

// SubmitVoteRequest is the body of POST /votes.
type SubmitVoteRequest struct {
	SubjectID string `json:"subject_id"`
	VoteType  string `json:"vote_type"`

	voteType models.VoteType
}

// Validate only normalises the body. Subject and vote type are checked by the
// vote service after eligibility, so an unverified caller always sees
// not_verified first.
func (req *SubmitVoteRequest) Validate() error {
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	req.voteType = models.VoteType(strings.ToLower(strings.TrimSpace(req.VoteType)))
	return nil
}

func (h *Handler) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitVoteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	// No session means no wallet and no verification.
	var state identity.State
	if sessionID := requestcontext.SessionID(ctx); sessionID != "" {
		var err error
		if state, err = h.sessions.State(ctx, sessionID); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	rec, err := h.votes.SubmitVote(ctx, state, req.SubjectID, req.voteType)
	if err != nil {
		// The service has already logged and notified.
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) filtered(w http.ResponseWriter, r *http.Request) ([]*models.VoteRecord, bool) {
	q := r.URL.Query()
	f, err := query.ParseFilter(q.Get("region"), q.Get("from"), q.Get("to"), q.Get("vote_type"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "invalid ledger filter",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return nil, false
	}
	return h.queries.Query(r.Context(), f), true
}

func (h *Handler) handleListLedger(w http.ResponseWriter, r *http.Request) {
	records, ok := h.filtered(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (h *Handler) handleTally(w http.ResponseWriter, r *http.Request) {
	records, ok := h.filtered(w, r)
	if !ok {
		return
	}
	subjects := query.Tallies(records)
	if subjects == nil {
		subjects = []query.SubjectTally{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"subjects": subjects,
		"summary":  query.Summarize(records),
	})
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	records, ok := h.filtered(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.NewCSVSink(&buf).WriteRows(export.CSVHeader, export.CSVRows(records)); err != nil {
		h.exportFailed(r.Context(), w, "csv", err)
		return
	}
	h.metrics.IncrementExport("csv")
	writeAttachment(w, "text/csv; charset=utf-8", "civic-ledger.csv", buf.Bytes())
}

func (h *Handler) handleExportReport(w http.ResponseWriter, r *http.Request) {
	records, ok := h.filtered(w, r)
	if !ok {
		return
	}
	now := func() time.Time { return requestcontext.Now(r.Context()) }
	var buf bytes.Buffer
	if err := export.NewReportSink(&buf, now).WriteRows(export.ReportHeader, export.ReportRows(records)); err != nil {
		h.exportFailed(r.Context(), w, "report", err)
		return
	}
	h.metrics.IncrementExport("report")
	writeAttachment(w, "text/plain; charset=utf-8", "civic-ledger-report.txt", buf.Bytes())
}

func (h *Handler) exportFailed(ctx context.Context, w http.ResponseWriter, format string, err error) {
	h.logger.ErrorContext(ctx, "failed to render export",
		"request_id", requestcontext.RequestID(ctx),
		"format", format,
		"error", err,
	)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export"))
}

// writeAttachment sends an export that has been fully rendered.
func writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
