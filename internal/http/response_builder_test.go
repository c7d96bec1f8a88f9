package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Body(map[string]string{"id": "abc"}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got["id"] != "abc" {
		t.Errorf("id = %q, want %q", got["id"], "abc")
	}
}

func TestJSONResponseBuilder_NoContent(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusNoContent).
		Body(map[string]string{"ignored": "yes"}).
		Write(w)

	if w.Code != http.StatusNoContent {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Body.Len() != 0 {
		t.Errorf("Body = %q, want empty", w.Body.String())
	}
}

func TestJSONResponseBuilder_Headers(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Header("Location", "/api/transactions/1").
		Body(struct{}{}).
		Write(w)

	if got := w.Header().Get("Location"); got != "/api/transactions/1" {
		t.Errorf("Location = %q", got)
	}
}

func TestJSONResponseBuilder_UnencodableBody(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().Body(map[string]any{"bad": make(chan int)}).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		builder *JSONResponseBuilder
		want    int
	}{
		{"bad request", BadRequestError("amount: must be a non-negative number"), http.StatusBadRequest},
		{"unauthorized", UnauthorizedError("missing bearer token"), http.StatusUnauthorized},
		{"not found", NotFoundError("not found"), http.StatusNotFound},
		{"method not allowed", MethodNotAllowedError("method not allowed"), http.StatusMethodNotAllowed},
		{"too many requests", TooManyRequestsError("slow down"), http.StatusTooManyRequests},
		{"internal", TracedErrorResponse(http.StatusInternalServerError, "internal error", "req_1"), http.StatusInternalServerError},
		{"bad gateway", BadGatewayError("failed to save"), http.StatusBadGateway},
		{"unavailable", ServiceUnavailableError("shutting down"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.want {
				t.Errorf("Status code = %d, want %d", w.Code, tt.want)
			}
			var body errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if body.Error == "" {
				t.Error("error message should not be empty")
			}
		})
	}
}

func TestTracedErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	TracedErrorResponse(http.StatusBadGateway, "failed to save", "req_abc").Write(w)

	if !strings.Contains(w.Body.String(), `"requestId":"req_abc"`) {
		t.Errorf("body = %s, want requestId", w.Body.String())
	}

	w = httptest.NewRecorder()
	TracedErrorResponse(http.StatusBadGateway, "failed to save", "").Write(w)
	if strings.Contains(w.Body.String(), "requestId") {
		t.Errorf("body = %s, empty request ID should be omitted", w.Body.String())
	}
}

func TestUnauthorizedErrorChallenge(t *testing.T) {
	w := httptest.NewRecorder()
	UnauthorizedError("missing bearer token").Write(w)

	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("WWW-Authenticate header should be set")
	}
}
