package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/domain"
)

func testNote() Notification {
	return Notification{
		RuleID:      "rule-1",
		UserID:      "user-1",
		StationID:   "st-1",
		StationName: "Alpha",
		Fuel:        domain.FuelPetrol,
		PricePpl:    147,
		DropPpl:     3,
		ObservedAt:  time.Now().UTC(),
	}
}

func TestPushClientSuccess(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/push" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("api key not forwarded: %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode push payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewPushClient(srv.URL, "secret", time.Second, zerolog.Nop())
	if err := client.Dispatch(context.Background(), testNote()); err != nil {
		t.Fatalf("dispatch should succeed: %v", err)
	}
	if received.RuleID != "rule-1" || received.DropPpl != 3 {
		t.Fatalf("unexpected payload %+v", received)
	}
}

func TestPushClientGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewPushClient(srv.URL, "", time.Second, zerolog.Nop())
	if err := client.Dispatch(context.Background(), testNote()); err == nil {
		t.Fatal("HTTP 500 should return an error")
	}
}
