package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradeboard/internal/domain"
)

func rowsHandler(t *testing.T, wantPath string, rows []domain.TradeRow) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("Path: got %s, want %s", r.URL.Path, wantPath)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept header: got %s", got)
		}
		json.NewEncoder(w).Encode(rows)
	}
}

func TestHTTPSource_FetchCompleted(t *testing.T) {
	exit := 110.0
	rows := []domain.TradeRow{
		{ID: "t1", Symbol: "AAPL", EntryPrice: 100, ExitPrice: &exit, Quantity: 1,
			TradeDate: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
	}
	server := httptest.NewServer(rowsHandler(t, "/trades/completed", rows))
	defer server.Close()

	source := NewHTTPSource(server.URL)
	got, err := source.FetchCompleted(context.Background())
	if err != nil {
		t.Fatalf("FetchCompleted failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("Rows: got %+v", got)
	}
	if got[0].ExitPrice == nil || *got[0].ExitPrice != 110 {
		t.Errorf("ExitPrice: got %v", got[0].ExitPrice)
	}
}

func TestHTTPSource_FetchCompletedSince_QueryParam(t *testing.T) {
	since := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		json.NewEncoder(w).Encode([]domain.TradeRow{})
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL)
	if _, err := source.FetchCompletedSince(context.Background(), since); err != nil {
		t.Fatalf("FetchCompletedSince failed: %v", err)
	}
	if gotSince != "2024-06-01T10:00:00Z" {
		t.Errorf("since param: got %s", gotSince)
	}
}

func TestHTTPSource_APIKeyHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]domain.TradeRow{})
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, WithAPIKey("secret"))
	if _, err := source.FetchActive(context.Background()); err != nil {
		t.Fatalf("FetchActive failed: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization: got %s", gotAuth)
	}
}

func TestHTTPSource_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL)
	_, err := source.FetchCompleted(context.Background())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.StatusCode() != http.StatusBadGateway {
		t.Errorf("StatusCode: got %d, want 502", statusErr.StatusCode())
	}
}

func TestHTTPSource_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := source.FetchCompleted(ctx); err == nil {
		t.Error("Expected error on cancelled context")
	}
}
