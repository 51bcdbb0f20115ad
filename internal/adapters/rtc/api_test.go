package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRTPCapabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/webrtc/rtp-capabilities" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"codecs":[{"mimeType":"audio/opus"}]}`))
	}))
	defer srv.Close()

	caps, err := NewAPIClient(srv.URL).RTPCapabilities(context.Background())
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if !strings.Contains(string(caps), "audio/opus") {
		t.Errorf("unexpected capabilities body: %s", caps)
	}
}

func TestCreateTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/webrtc/transport" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["direction"] != "send" {
			t.Errorf("bad transport request: %v %v", req, err)
		}
		w.Write([]byte(`{"id":"t1","iceParameters":{},"iceCandidates":[],"dtlsParameters":{}}`))
	}))
	defer srv.Close()

	info, err := NewAPIClient(srv.URL).CreateTransport(context.Background(), "send")
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	if info.ID != "t1" {
		t.Errorf("transport id = %q, want t1", info.ID)
	}
}

func TestCreateProducer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode producer request: %v", err)
		}
		if req["transportId"] != "t1" || req["kind"] != "audio" {
			t.Errorf("bad producer request: %v", req)
		}
		if _, ok := req["rtpParameters"]; !ok {
			t.Error("producer request missing rtpParameters")
		}
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer srv.Close()

	id, err := NewAPIClient(srv.URL).CreateProducer(context.Background(), "t1", "audio", map[string]any{}, nil)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	if id != "p1" {
		t.Errorf("producer id = %q, want p1", id)
	}
}

func TestCreateProducerMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := NewAPIClient(srv.URL).CreateProducer(context.Background(), "t1", "audio", nil, nil); err == nil {
		t.Fatal("expected error for producer reply without id")
	}
}

func TestNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room full", http.StatusConflict)
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL).RTPCapabilities(context.Background())
	if err == nil {
		t.Fatal("expected error on 409")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "room full") {
		t.Errorf("error lacks status context: %v", err)
	}
}
