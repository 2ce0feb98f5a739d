package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeSize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1024x768", "1024x768"},
		{" 800 x 600 ", "800x600"},
		{"1024X768", "1024x768"},
		{"banana", ""},
		{"0x100", ""},
		{"-1x100", ""},
		{"100x", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeSize(tc.in); got != tc.want {
			t.Errorf("normalizeSize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGenerateKeepsSuccessesDropsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"b64_json":"aGVsbG8="},{"url":"https://cdn.example/img.png"},{}]}`))
	}))
	defer srv.Close()

	c := NewImageClient("test-key", "test-model", WithImageBaseURL(srv.URL))
	out := c.Generate(context.Background(), "a warm bakery storefront", 3, "512x512")

	if len(out) != 2 {
		t.Fatalf("results = %d, want 2 (empty entry dropped)", len(out))
	}
	if out[0].B64 != "aGVsbG8=" {
		t.Fatalf("first result b64 = %q", out[0].B64)
	}
	if out[1].URL != "https://cdn.example/img.png" {
		t.Fatalf("second result url = %q", out[1].URL)
	}
}

func TestGenerateFailureYieldsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewImageClient("test-key", "test-model", WithImageBaseURL(srv.URL))
	if out := c.Generate(context.Background(), "anything", 2, ""); len(out) != 0 {
		t.Fatalf("expected no results on failure, got %d", len(out))
	}
}
