package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(trackerFrom(r).Categories()).Write(w)
}

type categoryRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, "add category", err)
		return
	}
	if err := tracker.AddCategory(r.Context(), req.Type, sanitizeInput(req.Name)); err != nil {
		s.writeServiceError(w, r, "add category", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleDeleteCategory removes a category. Names may contain "/", so
// clients send them path-escaped.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	name, err := pathParam(r, chi.URLParam(r, "name"))
	if err != nil {
		BadRequestError("invalid category name").Write(w)
		return
	}
	if err := tracker.DeleteCategory(r.Context(), chi.URLParam(r, "type"), name); err != nil {
		s.writeServiceError(w, r, "delete category", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	p, err := ParsePeriodParams(r.URL.Query(), defaultPeriodKeys, s.now(), s.loc)
	if err != nil {
		s.writeServiceError(w, r, "get goal", err)
		return
	}
	d, err := s.display(r)
	if err != nil {
		s.writeServiceError(w, r, "get goal", err)
		return
	}
	g, err := tracker.Goal(p)
	if err != nil {
		s.writeServiceError(w, r, "get goal", err)
		return
	}
	NewJSONResponse().Body(map[string]any{
		"period":   newPeriodView(p),
		"currency": d.code,
		"goal":     d.goal(g),
	}).Write(w)
}

type goalRequest struct {
	Amount   amountText `json:"amount"`
	Currency string     `json:"currency"`
}

// handlePutGoal sets the monthly goal from a display amount. A null or
// empty amount clears it.
func (s *Server) handlePutGoal(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	var req goalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, "set goal", err)
		return
	}

	var err error
	if string(req.Amount) == "" {
		err = tracker.ClearGoal(r.Context())
	} else {
		err = tracker.SetGoal(r.Context(), string(req.Amount), req.Currency)
	}
	if err != nil {
		s.writeServiceError(w, r, "set goal", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

// handleReset deletes every transaction and template and restores the
// default categories. The body must confirm the request.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, "reset", err)
		return
	}
	if !req.Confirm {
		s.writeServiceError(w, r, "reset", core.NewValidationError("confirm", "must be true to reset all data"))
		return
	}
	if err := tracker.ResetAllData(r.Context()); err != nil {
		s.writeServiceError(w, r, "reset", err)
		return
	}
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Account data reset",
		applog.FieldOperation, applog.OpReset)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
