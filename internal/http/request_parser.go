// Package http serves the tracker's JSON API.
//
// This file implements utilities for parsing and validating request data:
// period query parameters, display currency selection and JSON bodies.
package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"
)

const maxBodyBytes = 1 << 20

// allValue in a month or year parameter lifts the constraint on that axis.
const allValue = "all"

// PeriodKeys names the query parameters a period is read from.
type PeriodKeys struct {
	Month string
	Year  string
}

var defaultPeriodKeys = PeriodKeys{Month: "month", Year: "year"}

// ParsePeriodParams reads a period from query parameters. A missing
// parameter defaults to the current month or year in loc; "all" leaves that
// axis unconstrained.
func ParsePeriodParams(query url.Values, keys PeriodKeys, now time.Time, loc *time.Location) (core.Period, error) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	month, err := parsePeriodField(query.Get(keys.Month), int(now.Month()), core.ErrInvalidMonth)
	if err != nil {
		return core.Period{}, err
	}
	year, err := parsePeriodField(query.Get(keys.Year), now.Year(), core.ErrInvalidYear)
	if err != nil {
		return core.Period{}, err
	}

	p := core.Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return core.Period{}, err
	}
	return p, nil
}

func parsePeriodField(raw string, def int, invalid error) (*int, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return &def, nil
	case strings.EqualFold(raw, allValue):
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, invalid
	}
	return &v, nil
}

// PreviousMonth returns the calendar month before p. Periods without both
// fields are returned unchanged.
func PreviousMonth(p core.Period) core.Period {
	if p.Month == nil || p.Year == nil {
		return p
	}
	t := time.Date(*p.Year, time.Month(*p.Month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return core.MonthOf(t)
}

// ParseDate reads a posting date. It accepts YYYY-MM-DD, interpreted at
// midnight in loc, or RFC 3339.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, core.ErrInvalidTimestamp
}

// amountText accepts an amount as a JSON number or string and keeps its
// literal text so the domain parser sees exactly what the client sent.
type amountText string

func (a *amountText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*a = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountText(s)
	default:
		*a = amountText(b)
	}
	return nil
}

// decodeJSON reads a single JSON object from the request body. Unknown
// fields and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return core.NewValidationError("body", "request body too large")
		case errors.Is(err, io.EOF):
			return core.NewValidationError("body", "request body is empty")
		}
		return core.NewValidationError("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	if dec.More() {
		return core.NewValidationError("body", "unexpected data after JSON object")
	}
	return nil
}

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// pathParam unescapes a route parameter. The router matches against the
// raw path when the request carried escaped characters such as %2F.
func pathParam(r *http.Request, raw string) (string, error) {
	if r.URL.RawPath == "" {
		return raw, nil
	}
	return url.PathUnescape(raw)
}
