package apiclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockpit-project/citransfer/apiclient"
)

type fakePoster struct {
	calls []string
}

func (f *fakePoster) Post(url string, body any, headers map[string]string) error {
	f.calls = append(f.calls, url)
	return nil
}

func reduceA(raw json.RawMessage) (any, error) {
	var v struct {
		A int `json:"a"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v.A, nil
}

func TestGetCachesAndServes304(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"a":7}`))
	}))
	defer server.Close()

	client := apiclient.New(server.URL, "test-agent", "tok", &fakePoster{}, map[apiclient.ReducerTag]apiclient.Reducer{
		"a": reduceA,
	})

	v1, err := client.Get("/x", "a")
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if v1 != 7 {
		t.Fatalf("expected 7, got %v", v1)
	}

	v2, err := client.Get("/x", "a")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if v2 != 7 {
		t.Fatalf("expected cached 7 on 304, got %v", v2)
	}
	if requests != 2 {
		t.Fatalf("expected 2 requests to reach the server, got %d", requests)
	}
}

func TestGetReturnsNoneOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := apiclient.New(server.URL, "test-agent", "tok", &fakePoster{}, map[apiclient.ReducerTag]apiclient.Reducer{
		"a": reduceA,
	})

	v, err := client.Get("/x", "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != apiclient.None {
		t.Fatalf("expected None sentinel, got %v", v)
	}
}

func TestPostDelegatesToQueue(t *testing.T) {
	poster := &fakePoster{}
	client := apiclient.New("https://status.example.com", "ua", "tok", poster, nil)

	if err := client.Post("/repos/org/repo/statuses/sha", apiclient.StatusPost{
		Context: "ci", State: "pending", Description: "running", TargetURL: "https://log",
	}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(poster.calls) != 1 || poster.calls[0] != "https://status.example.com/repos/org/repo/statuses/sha" {
		t.Fatalf("unexpected calls: %+v", poster.calls)
	}
}
