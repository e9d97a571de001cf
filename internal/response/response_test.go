package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/ok", func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"id": RequestID(c)}) })
	r.GET("/fail", func(c *gin.Context) {
		FailWithFields(c, http.StatusBadRequest, ErrValidation, map[string]string{"text_answer": "too long"})
	})
	return r
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "Generated", header: "", keep: false},
		{name: "CallerSupplied", header: "engine-7f3a", keep: true},
		{name: "TooLong", header: strings.Repeat("x", maxRequestIDLen+1), keep: false},
		{name: "NotPrintable", header: "bad id", keep: false},
	}

	r := newEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ok", nil)
			if tt.header != "" {
				req.Header.Set(HeaderRequestID, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			var body Envelope[map[string]string]
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			got := w.Header().Get(HeaderRequestID)
			if got == "" || body.Metadata.RequestID != got || body.Data["id"] != got {
				t.Fatalf("request id mismatch: header=%q metadata=%q data=%q", got, body.Metadata.RequestID, body.Data["id"])
			}
			if (got == tt.header) != tt.keep {
				t.Fatalf("request id = %q, keep caller id = %v", got, tt.keep)
			}
			if body.Metadata.ServerTime.IsZero() {
				t.Fatal("server_time missing")
			}
		})
	}
}

func TestFailWithFields(t *testing.T) {
	w := httptest.NewRecorder()
	newEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var body Envelope[any]
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data != nil || body.Error == nil {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	if body.Error.Code != ErrValidation || body.Error.Message != GetMessage(ErrValidation) {
		t.Fatalf("error = %+v", body.Error)
	}
	if body.Error.Fields["text_answer"] != "too long" {
		t.Fatalf("fields = %v", body.Error.Fields)
	}
}
