package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/seanmck/mailcorr/internal/correlate"
	"github.com/seanmck/mailcorr/internal/mailbox"
)

const defaultDaysBack = 30

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// InboxResponse is the payload for GET /inbox.
type InboxResponse struct {
	Count    int                     `json:"count"`
	DaysBack int                     `json:"daysBack"`
	Emails   []mailbox.MessageRecord `json:"emails"`
}

// ContactPayload identifies one contact to correlate.
type ContactPayload struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CSMName   string `json:"csm_name"`
	CSMEmail  string `json:"csm_email"`
	EPName    string `json:"ep_name"`
	EPEmail   string `json:"ep_email"`
}

// CheckRepliesRequest is the payload for POST /check-replies.
type CheckRepliesRequest struct {
	Contacts []ContactPayload `json:"contacts"`
	DaysBack int              `json:"daysBack"`
}

// ContactResult pairs a contact with its correlation outcome.
type ContactResult struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	correlate.MatchResult
}

// CheckRepliesResponse is the payload for POST /check-replies.
type CheckRepliesResponse struct {
	Success         bool            `json:"success"`
	DaysBack        int             `json:"daysBack"`
	ContactsChecked int             `json:"contactsChecked"`
	RepliedCount    int             `json:"repliedCount"`
	Results         []ContactResult `json:"results"`
	Message         string          `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// daysBackParam parses the days query parameter, defaulting to 30.
func daysBackParam(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		return defaultDaysBack
	}
	return days
}

// handleInbox returns cached inbox messages for the requested window.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	daysBack := daysBackParam(r)

	msgs, err := s.mail.Messages(r.Context(), daysBack)
	if err != nil {
		s.logger.Error("inbox retrieval failed", "days", daysBack, "error", err)
		if errors.Is(err, mailbox.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "provider_unavailable", "Mailbox provider is not reachable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve inbox")
		return
	}

	if msgs == nil {
		msgs = []mailbox.MessageRecord{}
	}
	writeJSON(w, http.StatusOK, InboxResponse{
		Count:    len(msgs),
		DaysBack: daysBack,
		Emails:   msgs,
	})
}

// handleCheckReplies correlates cached inbox messages with the submitted
// contacts. Mailbox trouble after the cache exists is absorbed by the
// facade, so an error here means no usable data at all.
func (s *Server) handleCheckReplies(w http.ResponseWriter, r *http.Request) {
	var req CheckRepliesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}
	if len(req.Contacts) == 0 {
		writeError(w, http.StatusBadRequest, "missing_contacts", "At least one contact is required")
		return
	}
	daysBack := req.DaysBack
	if daysBack <= 0 {
		daysBack = defaultDaysBack
	}

	msgs, err := s.mail.Messages(r.Context(), daysBack)
	if err != nil {
		s.logger.Error("reply check failed", "days", daysBack, "error", err)
		if errors.Is(err, mailbox.ErrUnavailable) {
			// No cache and no provider: report a clean zero-result
			// envelope so callers can distinguish "nobody replied"
			// from "nothing was checked" via the message.
			writeJSON(w, http.StatusOK, CheckRepliesResponse{
				Success:  false,
				DaysBack: daysBack,
				Results:  []ContactResult{},
				Message:  "mailbox provider unavailable; no messages were checked",
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve messages")
		return
	}

	resp := CheckRepliesResponse{
		Success:  true,
		DaysBack: daysBack,
		Results:  make([]ContactResult, 0, len(req.Contacts)),
	}
	for _, c := range req.Contacts {
		result := correlate.CheckContactReplies(msgs, correlate.Target{
			ContactEmail: c.Email,
			ContactFirst: c.FirstName,
			ContactLast:  c.LastName,
			CSMEmail:     c.CSMEmail,
			CSMName:      c.CSMName,
			EPEmail:      c.EPEmail,
			EPName:       c.EPName,
		})
		resp.Results = append(resp.Results, ContactResult{
			ID:          c.ID,
			Email:       c.Email,
			MatchResult: result,
		})
		resp.ContactsChecked++
		if result.HasReplied {
			resp.RepliedCount++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCreateCache forces a cache refresh and returns the refresh result.
func (s *Server) handleCreateCache(w http.ResponseWriter, r *http.Request) {
	result, err := s.mail.Refresh(r.Context())
	if err != nil {
		s.logger.Error("cache refresh failed", "error", err)
		if errors.Is(err, mailbox.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "provider_unavailable", "Mailbox provider is not reachable")
			return
		}
		writeError(w, http.StatusInternalServerError, "cache_refresh_failed", "Failed to refresh cache")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCacheInfo describes the on-disk cache chunks.
func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.mail.Info()
	if err != nil {
		s.logger.Error("cache info failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to inspect cache")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleSchedulerStatus reports the refresh scheduler state.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": s.scheduler.IsRunning(),
		"job":     s.scheduler.Status(),
	})
}
