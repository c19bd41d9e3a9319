package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("api.example.com", nil, 0); err == nil {
		t.Fatal("NewClient(relative) error = nil")
	}
}

func TestClient_SubmitAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/lookbook/jobs", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"style":"minimal"}` {
			t.Errorf("submit body = %s", body)
		}
		w.Write([]byte(`{"taskId":"T1"}`))
	})
	mux.HandleFunc("GET /v1/lookbook/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "T1" {
			t.Errorf("status id = %s", r.PathValue("id"))
		}
		w.Write([]byte(`{"status":"completed","progress":100,"result":["url1"]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(srv.URL, nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	id, err := c.Submit(ctx, "/v1/lookbook/jobs", json.RawMessage(`{"style":"minimal"}`))
	if err != nil || id != "T1" {
		t.Fatalf("Submit = %q, %v", id, err)
	}
	st, err := c.Status(ctx, "/v1/lookbook/jobs", id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusCompleted || st.Progress != 100 || string(st.Result) != `["url1"]` {
		t.Fatalf("Status = %+v", st)
	}
}

func TestClient_Invoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/recommendations":
			w.Write([]byte(`{"items":[1,2]}`))
		default:
			http.Error(w, "bad params", http.StatusUnprocessableEntity)
		}
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, map[RequestType]string{
		TypeRecommendation: "/v1/recommendations",
		TypeChat:           "/v1/chat",
	}, time.Second)
	ctx := context.Background()

	out, err := c.Invoke(ctx, TypeRecommendation, json.RawMessage(`{}`))
	if err != nil || string(out) != `{"items":[1,2]}` {
		t.Fatalf("Invoke = %s, %v", out, err)
	}

	_, err = c.Invoke(ctx, TypeChat, json.RawMessage(`{}`))
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnprocessableEntity || !se.Permanent() {
		t.Fatalf("Invoke error = %v, want permanent 422 StatusError", err)
	}

	if _, err := c.Invoke(ctx, TypeAnalyze, nil); err == nil {
		t.Fatal("Invoke without route error = nil")
	}
}
