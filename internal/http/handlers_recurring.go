package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	d, err := s.display(r)
	if err != nil {
		s.writeServiceError(w, r, "list recurring", err)
		return
	}
	templates := tracker.Templates()
	out := make([]templateView, 0, len(templates))
	for _, t := range templates {
		out = append(out, d.template(t))
	}
	NewJSONResponse().Body(map[string]any{
		"currency":  d.code,
		"templates": out,
	}).Write(w)
}

type createRecurringRequest struct {
	Amount      amountText `json:"amount"`
	Currency    string     `json:"currency"`
	Type        string     `json:"type"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Frequency   string     `json:"frequency"`
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	var req createRecurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, "create recurring", err)
		return
	}
	id, err := tracker.AddRecurringTemplate(r.Context(), services.RecurringInput{
		Amount:      string(req.Amount),
		Currency:    req.Currency,
		Type:        req.Type,
		Category:    sanitizeInput(req.Category),
		Description: sanitizeInput(req.Description),
		Frequency:   req.Frequency,
	})
	if err != nil {
		s.writeServiceError(w, r, "create recurring", err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Recurring template created",
		applog.FieldTemplate, id,
		applog.FieldTxType, req.Type,
		applog.FieldCategory, req.Category)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/recurring/"+id).
		Body(createdResponse{ID: id}).
		Write(w)
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	if err := tracker.DeleteRecurringTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, "delete recurring", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleRunRecurring posts every template due now. Failures of individual
// templates do not undo the ones already posted.
func (s *Server) handleRunRecurring(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	posted, err := tracker.RunDueRecurring(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "run recurring", err)
		return
	}
	NewJSONResponse().Body(map[string]int{"posted": posted}).Write(w)
}
