package http

import (
	"net/http"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)

	p, err := ParsePeriodParams(r.URL.Query(), defaultPeriodKeys, s.now(), s.loc)
	if err != nil {
		s.writeServiceError(w, r, "summary", err)
		return
	}
	d, err := s.display(r)
	if err != nil {
		s.writeServiceError(w, r, "summary", err)
		return
	}

	sum, err := tracker.GetSummary(p)
	if err != nil {
		s.writeServiceError(w, r, "summary", err)
		return
	}
	goal, err := tracker.Goal(p)
	if err != nil {
		s.writeServiceError(w, r, "summary", err)
		return
	}

	NewJSONResponse().Body(d.summary(p, sum, goal)).Write(w)
}

// handleReport compares period A (default: current month) with period B
// (default: the month before A).
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	tracker := trackerFrom(r)
	query := r.URL.Query()

	a, err := ParsePeriodParams(query, PeriodKeys{Month: "monthA", Year: "yearA"}, s.now(), s.loc)
	if err != nil {
		s.writeServiceError(w, r, "report", err)
		return
	}
	b := PreviousMonth(a)
	if query.Has("monthB") || query.Has("yearB") {
		b, err = ParsePeriodParams(query, PeriodKeys{Month: "monthB", Year: "yearB"}, s.now(), s.loc)
		if err != nil {
			s.writeServiceError(w, r, "report", err)
			return
		}
	}
	d, err := s.display(r)
	if err != nil {
		s.writeServiceError(w, r, "report", err)
		return
	}

	cmp, err := tracker.Compare(a, b)
	if err != nil {
		s.writeServiceError(w, r, "report", err)
		return
	}
	NewJSONResponse().Body(d.report(a, b, cmp)).Write(w)
}

type ratesView struct {
	Base       string             `json:"base"`
	Live       bool               `json:"live"`
	Currencies []string           `json:"currencies"`
	Rates      map[string]float64 `json:"rates"`
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	rates := s.rates.Rates(r.Context())
	table := s.rates.Table()
	NewJSONResponse().Body(ratesView{
		Base:       table.Base,
		Live:       s.rates.Live(),
		Currencies: table.Codes(),
		Rates:      rates,
	}).Write(w)
}
