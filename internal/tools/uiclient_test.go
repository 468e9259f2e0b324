package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUIClientOpenPanel(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		w.Write([]byte(`{"opened":true}`))
	}))
	defer srv.Close()

	client := NewUIClient(srv.URL, nil)
	if err := client.OpenPanel(context.Background(), "editor"); err != nil {
		t.Fatalf("OpenPanel: %v", err)
	}
	if gotPath != "/panels/open" || gotBody["panel_id"] != "editor" {
		t.Errorf("path = %q body = %v", gotPath, gotBody)
	}
}

func TestUIClientAutomationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "element not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewUIClient(srv.URL, nil)
	_, err := client.Click(context.Background(), 7)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if got := err.Error(); !strings.Contains(got, "status 404") || !strings.Contains(got, "element not found") {
		t.Errorf("err = %q", got)
	}
}

func TestUIClientNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text page dump"))
	}))
	defer srv.Close()

	client := NewUIClient(srv.URL, nil)
	result, err := client.ReadPage(context.Background())
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["text"] != "plain text page dump" {
		t.Errorf("result = %v", result)
	}
}
