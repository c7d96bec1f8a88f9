package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	p, err := ParsePeriodParams(r.URL.Query(), defaultPeriodKeys, s.now(), s.loc)
	if err != nil {
		s.writeServiceError(w, r, "list transactions", err)
		return
	}
	d, err := s.display(r)
	if err != nil {
		s.writeServiceError(w, r, "list transactions", err)
		return
	}
	txs, err := tracker.Transactions(p)
	if err != nil {
		s.writeServiceError(w, r, "list transactions", err)
		return
	}

	out := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, d.transaction(t, s.loc))
	}
	NewJSONResponse().Body(map[string]any{
		"period":       newPeriodView(p),
		"currency":     d.code,
		"transactions": out,
	}).Write(w)
}

type createTransactionRequest struct {
	Amount      amountText `json:"amount"`
	Currency    string     `json:"currency"`
	Type        string     `json:"type"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Date        string     `json:"date"`
	Timestamp   *int64     `json:"timestamp"`
}

type createdResponse struct {
	ID string `json:"id"`
}

// handleCreateTransaction posts a transaction. Without a date or timestamp
// it lands at the default posting time of the period in the query string.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, "create transaction", err)
		return
	}

	when, err := s.postingTime(r, req.Date, req.Timestamp)
	if err != nil {
		s.writeServiceError(w, r, "create transaction", err)
		return
	}

	in := services.TransactionInput{
		Amount:      string(req.Amount),
		Currency:    req.Currency,
		Type:        req.Type,
		Category:    sanitizeInput(req.Category),
		Description: sanitizeInput(req.Description),
		When:        when,
	}
	id, err := tracker.AddTransaction(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, "create transaction", err)
		return
	}

	amount, _ := core.ParseAmount(in.Amount)
	s.structured.LogTransactionCreated(r.Context(), tracker.Account(), in.Type, amount, in.Category, id)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+id).
		Body(createdResponse{ID: id}).
		Write(w)
}

func (s *Server) postingTime(r *http.Request, date string, timestamp *int64) (time.Time, error) {
	if timestamp != nil {
		return time.UnixMilli(*timestamp), nil
	}
	if date != "" {
		return ParseDate(date, s.loc)
	}
	p, err := ParsePeriodParams(r.URL.Query(), defaultPeriodKeys, s.now(), s.loc)
	if err != nil {
		return time.Time{}, err
	}
	return services.DefaultPostingTime(p, s.now(), s.loc), nil
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	if err := tracker.DeleteTransaction(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, "delete transaction", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
