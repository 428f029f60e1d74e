package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10))); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(body)
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		fmt.Fprint(w, chatResponse(`{"title": "Dune", "author": "Frank Herbert", "description": "Desert planet.", "published_year": "1965"}`))
	}))
	defer srv.Close()

	a := NewAnalyzer("test-key", "gpt-4o").WithEndpoint(srv.URL)
	details, err := a.Analyze(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if details.Title != "Dune" || details.Author != "Frank Herbert" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.PublishedYear != 1965 {
		t.Fatalf("published year = %d", details.PublishedYear)
	}
}

func TestAnalyzeStripsCodeFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, chatResponse("```json\n{\"title\": \"Dune\", \"author\": \"\", \"description\": \"\", \"published_year\": \"\"}\n```"))
	}))
	defer srv.Close()

	a := NewAnalyzer("test-key", "gpt-4o").WithEndpoint(srv.URL)
	details, err := a.Analyze(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if details.Title != "Dune" {
		t.Fatalf("title = %q", details.Title)
	}
	if details.PublishedYear != 0 {
		t.Fatalf("empty year should stay 0, got %d", details.PublishedYear)
	}
}

func TestAnalyzeUnparseableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, chatResponse("I could not read the cover, sorry."))
	}))
	defer srv.Close()

	a := NewAnalyzer("test-key", "gpt-4o").WithEndpoint(srv.URL)
	if _, err := a.Analyze(context.Background(), testImage(t)); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestAnalyzeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewAnalyzer("test-key", "gpt-4o").WithEndpoint(srv.URL)
	if _, err := a.Analyze(context.Background(), testImage(t)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAnalyzeNotConfigured(t *testing.T) {
	a := NewAnalyzer("", "gpt-4o")
	if _, err := a.Analyze(context.Background(), testImage(t)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
