/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * The import pipeline is deliberately split across three endpoints: parse
 * returns candidates for operator review, execute submits the reviewed batch,
 * and retry re-submits only the rows a previous execution failed. State
 * between the steps lives in the client payloads, not on the server.
 *
 * @dependencies
 * - encoding/json, io, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/importer, internal/store: For
 *   service logic, models, the import pipeline, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/app"
	"github.com/meridianbank/ledger-service/internal/domain"
	"github.com/meridianbank/ledger-service/internal/importer"
	"github.com/meridianbank/ledger-service/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// uploadFormSlackBytes is headroom on top of the file-size ceiling for
// multipart boundaries and the accompanying form fields.
const uploadFormSlackBytes = 64 << 10

// executeBatchRequest carries an operator-reviewed candidate batch back to the
// server for settlement.
type executeBatchRequest struct {
	Candidates []domain.TransactionCandidate `json:"candidates"`
}

// retryBatchRequest carries the original candidates plus the previous result
// so the failed subset can be re-derived server-side.
type retryBatchRequest struct {
	Candidates []domain.TransactionCandidate `json:"candidates"`
	Previous   domain.BatchResult            `json:"previous"`
}

// ParseImportHandler accepts a multipart upload (field "file") plus an import
// type (field "type") and returns the parsed, validated candidate rows. No
// ledger state is touched.
func (h *LedgerHandlers) ParseImportHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetAdminID(r.Context()); !ok {
		h.writeError(w, http.StatusUnauthorized, "Admin identity not found")
		return
	}

	// Cap the request body before the multipart reader touches it, so an
	// oversize upload is cut off instead of spilled to disk or memory. The
	// slack covers multipart boundaries and the small "type" field.
	limit := h.service.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+uploadFormSlackBytes)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the maximum allowed size")
			return
		}
		h.writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Upload field 'file' is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	importType := r.FormValue("type")
	candidates, err := h.service.ParseImport(r.Context(), header.Filename, content, importType)
	if err != nil {
		switch {
		case errors.Is(err, importer.ErrUnsupportedFileType),
			errors.Is(err, importer.ErrFileTooLarge),
			errors.Is(err, importer.ErrEmptyInput),
			errors.Is(err, importer.ErrHeaderMissing),
			errors.Is(err, importer.ErrInvalidImportType):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			log.Printf("level=error component=api msg=\"import parse failed\" file=%q err=%v", header.Filename, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to parse upload")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": candidates})
}

// ExecuteImportHandler submits the operator-confirmed candidates to the
// ledger and returns per-row outcomes.
func (h *LedgerHandlers) ExecuteImportHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := GetAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Admin identity not found")
		return
	}

	retryAfter, err := h.service.CheckImportRateLimit(r.Context(), adminID)
	if err != nil {
		if errors.Is(err, app.ErrRateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many batch executions. Please wait and try again.")
			return
		}
		log.Printf("level=error component=api msg=\"rate limit check failed\" actor=%s err=%v", adminID, err)
	}

	var req executeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Candidates) == 0 {
		h.writeError(w, http.StatusBadRequest, "No candidate rows to execute")
		return
	}

	result := h.service.ExecuteBatch(r.Context(), adminID, req.Candidates)
	h.writeJSON(w, http.StatusOK, result)
}

// RetryImportHandler re-derives the failed subset of a previous execution and
// submits only those rows.
func (h *LedgerHandlers) RetryImportHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := GetAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Admin identity not found")
		return
	}

	retryAfter, err := h.service.CheckImportRateLimit(r.Context(), adminID)
	if err != nil {
		if errors.Is(err, app.ErrRateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many batch executions. Please wait and try again.")
			return
		}
		log.Printf("level=error component=api msg=\"rate limit check failed\" actor=%s err=%v", adminID, err)
	}

	var req retryBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	retry := app.SelectFailedForRetry(req.Candidates, req.Previous)
	if len(retry) == 0 {
		h.writeError(w, http.StatusBadRequest, "No failed rows to retry")
		return
	}

	result := h.service.ExecuteBatch(r.Context(), adminID, retry)
	h.writeJSON(w, http.StatusOK, result)
}

// ImportTemplateHandler returns a downloadable CSV template for bulk imports.
func (h *LedgerHandlers) ImportTemplateHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="bulk_import_template.csv"`)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, importer.TemplateCSV())
}

// ImportReportHandler renders the failed rows of a batch result as a
// downloadable CSV report.
func (h *LedgerHandlers) ImportReportHandler(w http.ResponseWriter, r *http.Request) {
	var result domain.BatchResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="failed_rows.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := importer.WriteFailureReport(w, result); err != nil {
		log.Printf("level=error component=api msg=\"failure report write failed\" err=%v", err)
	}
}

// GetAccountHandler returns a user's account with the stored and log-derived
// balances side by side.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}

	view, err := h.service.GetAccountView(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api msg=\"account lookup failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load account")
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// AdjustBalanceHandler applies an admin-initiated signed delta to a user's
// balance and records the matching audit transaction.
func (h *LedgerHandlers) AdjustBalanceHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := GetAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Admin identity not found")
		return
	}

	userID, ok := h.parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}

	var req domain.AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.service.AdjustBalance(r.Context(), adminID, userID, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAdjustment):
			h.writeError(w, http.StatusBadRequest, "Adjustment delta must be non-zero")
		case errors.Is(err, store.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "User not found")
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusUnprocessableEntity, "Insufficient funds for a negative adjustment")
		default:
			log.Printf("level=error component=api msg=\"balance adjustment failed\" user_id=%s err=%v", userID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to adjust balance")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, tx)
}

// ListTransactionsHandler returns the full transaction history for a user,
// oldest first.
func (h *LedgerHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api msg=\"transaction list failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load transactions")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": transactions})
}

// ReconcileAccountHandler recomputes one account's balance from its
// transaction log and repairs it if drifted. Internal-only.
func (h *LedgerHandlers) ReconcileAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}

	derived, repaired, err := h.service.Reconcile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api msg=\"reconcile failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to reconcile account")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":  derived,
		"repaired": repaired,
	})
}

// ReconcileAllHandler runs a full balance sweep on demand. Internal-only; the
// same sweep also runs on the cron schedule.
func (h *LedgerHandlers) ReconcileAllHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ReconcileAll(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"sweep failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to run reconciliation sweep")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *LedgerHandlers) parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
