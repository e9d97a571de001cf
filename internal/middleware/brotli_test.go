package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

func newBrotliRouter(body string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Brotli(brotli.DefaultCompression, 64))
	r.GET("/payload", func(c *gin.Context) {
		c.String(http.StatusOK, body)
	})
	return r
}

func TestBrotli(t *testing.T) {
	large := strings.Repeat("soal ", 100)

	t.Run("CompressesLargeBodies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/payload", nil)
		req.Header.Set("Accept-Encoding", "gzip, br")
		w := httptest.NewRecorder()
		newBrotliRouter(large).ServeHTTP(w, req)

		if got := w.Header().Get("Content-Encoding"); got != "br" {
			t.Fatalf("Content-Encoding = %q, want br", got)
		}
		plain, err := io.ReadAll(brotli.NewReader(w.Body))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if string(plain) != large {
			t.Fatal("decoded body does not match")
		}
	})

	t.Run("SmallBodiesStayPlain", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/payload", nil)
		req.Header.Set("Accept-Encoding", "br")
		w := httptest.NewRecorder()
		newBrotliRouter("ok").ServeHTTP(w, req)

		if got := w.Header().Get("Content-Encoding"); got != "" {
			t.Fatalf("Content-Encoding = %q, want none", got)
		}
		if w.Body.String() != "ok" {
			t.Fatalf("body = %q", w.Body.String())
		}
	})

	t.Run("ClientWithoutBrotli", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/payload", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		newBrotliRouter(large).ServeHTTP(w, req)

		if w.Header().Get("Content-Encoding") != "" || w.Body.String() != large {
			t.Fatal("expected an uncompressed body")
		}
	})

	t.Run("EventStreamPassesThrough", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/payload", nil)
		req.Header.Set("Accept-Encoding", "br")
		req.Header.Set("Accept", "text/event-stream")
		w := httptest.NewRecorder()
		newBrotliRouter(large).ServeHTTP(w, req)

		if w.Header().Get("Content-Encoding") != "" {
			t.Fatal("event streams must not be compressed")
		}
	})
}
