package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/recollect/collector/internal/event"
)

func TestIngest(t *testing.T) {
	var gotAuth string
	var gotEvents int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ingest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var body struct {
			Events []event.Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		gotEvents = len(body.Events)
		json.NewEncoder(w).Encode(map[string]int{"accepted": gotEvents})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key123", 0)
	if err != nil {
		t.Fatal(err)
	}

	events := []event.Event{
		{SourceType: "messages", SourceID: "a"},
		{SourceType: "messages", SourceID: "b"},
	}
	if err := c.Ingest(context.Background(), events); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if gotEvents != 2 {
		t.Errorf("server saw %d events, want 2", gotEvents)
	}
	if gotAuth != "Bearer key123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestIngestEmptyBatchSkipsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty batch")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Ingest(context.Background(), nil); err != nil {
		t.Fatalf("Ingest(nil): %v", err)
	}
}

func TestIngestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Ingest(context.Background(), []event.Event{{SourceID: "x"}}); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestFileHandoffFlow(t *testing.T) {
	var uploaded []byte
	var notified FileIngested

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/files/upload-target", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
			Hash string `json:"hash"`
			Size int64  `json:"size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Path != "/tmp/report.pdf" || req.Size != 4 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{"uploadUrl": srv.URL + "/blob/abc"})
	})
	mux.HandleFunc("/blob/abc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("upload method = %s, want PUT", r.Method)
		}
		uploaded, _ = io.ReadAll(r.Body)
	})
	mux.HandleFunc("/v1/files/ingested", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&notified); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	c, err := NewClient(srv.URL, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	url, err := c.RequestUploadTarget(ctx, "/tmp/report.pdf", "deadbeef", 4)
	if err != nil {
		t.Fatalf("RequestUploadTarget: %v", err)
	}
	if err := c.Upload(ctx, url, []byte("data")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if string(uploaded) != "data" {
		t.Errorf("uploaded = %q", uploaded)
	}

	info := FileIngested{ID: "f1", Path: "/tmp/report.pdf", Hash: "deadbeef", Size: 4, ModifiedAt: time.Now()}
	if err := c.NotifyFileIngested(ctx, info); err != nil {
		t.Fatalf("NotifyFileIngested: %v", err)
	}
	if notified.ID != "f1" || notified.Hash != "deadbeef" {
		t.Errorf("notified = %+v", notified)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("http://", "", 0); err == nil {
		t.Error("expected error for missing host")
	}
	c, err := NewClient("localhost:9090", "", 0)
	if err != nil {
		t.Fatalf("scheme-less endpoint: %v", err)
	}
	if c.endpoint != "http://localhost:9090" {
		t.Errorf("endpoint = %q", c.endpoint)
	}
}
