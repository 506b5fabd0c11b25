package advisory

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/models"
)

func newTestAdvisor(t *testing.T, handler http.HandlerFunc) *HTTPAdvisor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := NewHTTPAdvisor(HTTPConfig{Endpoint: srv.URL, APIKey: "key"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHTTPAdvisor: %v", err)
	}
	return a
}

func TestAdvisorReturnsValidatedAdvice(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `{"recommendation":"BUY","confidence":0.82,"stop_loss_distance":0.0030,"take_profit_distance":0.0070,"reasoning":"momentum"}`)
	})

	advice, err := a.Advise(context.Background(), Request{Symbol: "EUR_USD", Bid: 1.0849, Ask: 1.0851})
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if advice.Recommendation != models.Buy {
		t.Fatalf("recommendation = %q, want buy (case normalized)", advice.Recommendation)
	}
	if advice.Confidence != 0.82 || advice.StopLossDistance != 0.0030 {
		t.Fatalf("advice = %+v", advice)
	}
}

func TestAdvisorRejectsOutOfRangeConfidence(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"recommendation":"buy","confidence":1.4,"stop_loss_distance":0.003,"take_profit_distance":0.007}`)
	})

	_, err := a.Advise(context.Background(), Request{Symbol: "EUR_USD"})
	assertAdvisoryError(t, err)
}

func TestAdvisorRejectsDirectionalAdviceWithoutStops(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"recommendation":"sell","confidence":0.9}`)
	})

	_, err := a.Advise(context.Background(), Request{Symbol: "EUR_USD"})
	assertAdvisoryError(t, err)
}

func TestAdvisorHoldNeedsNoDistances(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"recommendation":"hold","confidence":0.55}`)
	})

	advice, err := a.Advise(context.Background(), Request{Symbol: "EUR_USD"})
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if advice.Recommendation != models.Hold {
		t.Fatalf("recommendation = %q, want hold", advice.Recommendation)
	}
}

func TestAdvisorMalformedResponse(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json at all`)
	})

	_, err := a.Advise(context.Background(), Request{Symbol: "EUR_USD"})
	assertAdvisoryError(t, err)
}

func TestAdvisorServerError(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := a.Advise(context.Background(), Request{Symbol: "EUR_USD"})
	assertAdvisoryError(t, err)
}

func assertAdvisoryError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var aerr *apperrors.AdvisoryError
	if !apperrors.As(err, &aerr) {
		t.Fatalf("err type = %T (%v), want *AdvisoryError", err, err)
	}
}
