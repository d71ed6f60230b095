package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "fuelwatch-test" {
			t.Fatalf("user agent not forwarded: %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{URL: srv.URL, Timeout: time.Second, UserAgent: "fuelwatch-test"}, noopLogger())
	payload, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if string(payload) != "payload" {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := f.Fetch(context.Background())
	if err == nil {
		t.Fatal("HTTP 502 should return an error")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("error should carry status and body snippet: %v", err)
	}
}

func TestFetchMissingURL(t *testing.T) {
	f := NewFetcher(FetcherOptions{}, noopLogger())
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("missing feed url should return an error")
	}
}
