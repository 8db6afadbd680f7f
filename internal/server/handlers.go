package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/paisatrail/paisatrail/internal/scheduler"
	"github.com/paisatrail/paisatrail/internal/syncer"
	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/export"
	"github.com/paisatrail/paisatrail/pkg/store/postgres"
)

// ErrorResponse is the JSON shape of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// userID resolves the {email} path parameter to the internal user id. A
// never-seen email gets a user row; its transaction set is simply empty.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := chi.URLParam(r, "email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email is required")
		return "", false
	}
	id, err := s.store.EnsureUser(r.Context(), email)
	if err != nil {
		s.logger.Error("resolving user", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve user")
		return "", false
	}
	return id, true
}

func (s *Server) transactionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid transaction id")
		return 0, false
	}
	return id, true
}

// handleTags returns the fixed tag vocabulary.
func (s *Server) handleTags(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"tags": api.Tags})
}

// ListResponse is one page of transactions.
type ListResponse struct {
	Transactions []*api.StoredTransaction `json:"transactions"`
	Total        int64                    `json:"total"`
	Page         int                      `json:"page"`
	PageSize     int                      `json:"page_size"`
}

// handleListTransactions returns a paginated, sorted, optionally filtered
// listing. Out-of-range paging values are clamped by the store.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	opts := postgres.ListOptions{
		Page:     page,
		PageSize: pageSize,
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
		Tag:      q.Get("tag"),
		Kind:     q.Get("kind"),
	}

	list, total, err := s.store.ListTransactions(r.Context(), userID, opts)
	if err != nil {
		s.logger.Error("listing transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list transactions")
		return
	}
	if list == nil {
		list = []*api.StoredTransaction{}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Transactions: list,
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
	})
}

// RenameRequest is one entry of a batch rename.
type RenameRequest struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RenameResult is the per-item outcome of a batch rename.
type RenameResult struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RenameResponse summarizes a batch rename.
type RenameResponse struct {
	Renamed int            `json:"renamed"`
	Failed  int            `json:"failed"`
	Results []RenameResult `json:"results"`
}

// handleBatchRename renames transactions one by one; a failing item never
// blocks its siblings and the response carries every item's outcome.
func (s *Server) handleBatchRename(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var reqs []RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON array of {id, name}")
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "no renames given")
		return
	}

	resp := RenameResponse{Results: make([]RenameResult, 0, len(reqs))}
	for _, req := range reqs {
		result := RenameResult{ID: req.ID, Status: "renamed"}
		switch {
		case req.Name == "":
			result.Status = "failed"
			result.Error = "name is required"
		case req.ID < 1:
			result.Status = "failed"
			result.Error = "invalid id"
		default:
			if err := s.store.Rename(r.Context(), userID, req.ID, req.Name); err != nil {
				result.Status = "failed"
				result.Error = renameFailure(err)
			}
		}
		if result.Status == "failed" {
			resp.Failed++
		} else {
			resp.Renamed++
		}
		resp.Results = append(resp.Results, result)
	}

	writeJSON(w, http.StatusOK, resp)
}

func renameFailure(err error) string {
	if errors.Is(err, postgres.ErrNotFound) {
		return "transaction not found"
	}
	return err.Error()
}

// handleSetNote sets the free-text description on one transaction.
func (s *Server) handleSetNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	id, ok := s.transactionID(w, r)
	if !ok {
		return
	}

	var body struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if err := s.store.SetNote(r.Context(), userID, id, body.Note); err != nil {
		s.writeUpdateError(w, err, "set note")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleSetTag sets the tag on one transaction; only the fixed vocabulary is
// accepted, and an empty tag clears it.
func (s *Server) handleSetTag(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	id, ok := s.transactionID(w, r)
	if !ok {
		return
	}

	var body struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if !api.ValidTag(body.Tag) {
		writeError(w, http.StatusBadRequest, "unknown_tag",
			fmt.Sprintf("tag %q is not in the vocabulary", body.Tag))
		return
	}

	if err := s.store.SetTag(r.Context(), userID, id, body.Tag); err != nil {
		s.writeUpdateError(w, err, "set tag")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) writeUpdateError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, postgres.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "transaction not found")
		return
	}
	s.logger.Error("transaction update failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
}

// handleDeleteAll removes every transaction for the user. Deleting an empty
// set succeeds with a zero count.
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	deleted, err := s.store.DeleteAll(r.Context(), userID)
	if err != nil {
		s.logger.Error("deleting transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete transactions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// handleTriggerSync runs a sync for the user synchronously and returns the
// aggregate run report. A run already underway is 409.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email is required")
		return
	}

	report, err := s.scheduler.TriggerSync(r.Context(), email)
	if errors.Is(err, scheduler.ErrSyncRunning) || errors.Is(err, syncer.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "sync_running", "a sync is already running for this user")
		return
	}
	if err != nil {
		s.logger.Error("sync failed", "user", email, "error", err)
		writeError(w, http.StatusBadGateway, "sync_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleSyncStatus reports the user's scheduling state.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	status, known := s.scheduler.UserStatusFor(email)
	if !known {
		writeError(w, http.StatusNotFound, "not_found", "no stored credential for user")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleOverview returns the dashboard aggregates.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	overview, err := s.store.Overview(r.Context(), userID)
	if err != nil {
		s.logger.Error("aggregating overview", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to compute overview")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// handleExport streams every transaction for the user as CSV or JSON.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		writeError(w, http.StatusBadRequest, "bad_request", "format must be csv or json")
		return
	}

	transactions, err := s.store.ExportAll(r.Context(), userID)
	if err != nil {
		s.logger.Error("exporting transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to export transactions")
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
		err = export.CSV(w, transactions)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="transactions.json"`)
		err = export.JSON(w, transactions)
	}
	if err != nil {
		s.logger.Error("writing export", "format", format, "error", err)
	}
}
