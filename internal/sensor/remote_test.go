package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProcessor_Process(t *testing.T) {
	var got RemoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != processPath {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"processed_value": 6.92, "unit": "pH", "quality": "good"}`))
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL+"/", "esp-01")
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res, err := p.Process(context.Background(), RemoteRequest{GPIO: 34, SensorType: "PH", RawValue: 1.52, Timestamp: ts})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Value != 6.92 || res.Unit != "pH" || res.Quality != "good" {
		t.Errorf("result = %+v", res)
	}
	if got.NodeID != "esp-01" || got.GPIO != 34 || got.RawValue != 1.52 || !got.Timestamp.Equal(ts) {
		t.Errorf("server received %+v", got)
	}
}

func TestHTTPProcessor_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, "esp-01")
	_, err := p.Process(context.Background(), RemoteRequest{GPIO: 34})
	if !errors.Is(err, ErrRemoteStatus) {
		t.Errorf("error = %v, want ErrRemoteStatus", err)
	}

	slow := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = NewHTTPProcessor(slow.URL, "esp-01").Process(ctx, RemoteRequest{GPIO: 34})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("slow server error = %v, want deadline exceeded", err)
	}
}

func TestParseQuality(t *testing.T) {
	if q, ok := parseQuality("Warning"); !ok || q.String() != "warning" {
		t.Errorf("parseQuality(Warning) = %v, %v", q, ok)
	}
	if _, ok := parseQuality(""); ok {
		t.Error("empty quality should not parse")
	}
}
