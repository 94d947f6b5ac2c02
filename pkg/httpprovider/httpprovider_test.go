package httpprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/artinet-dev/artinet-go/pkg/proto"
)

func TestCallBareResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req proto.ConnectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.ModelID != "m1" {
			t.Fatalf("ModelID = %q", req.ModelID)
		}
		json.NewEncoder(w).Encode(proto.ConnectResponse{Message: proto.NewMessage(proto.RoleAssistant, "hi")})
	}))
	defer srv.Close()

	p := New(srv.URL)
	resp, err := p.Call(context.Background(), proto.ConnectRequest{ModelID: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "hi" {
		t.Fatalf("content = %q", resp.Message.Content)
	}
}

func TestCallEnvelopedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"body": proto.ConnectResponse{Message: proto.NewMessage(proto.RoleAssistant, "wrapped")},
		})
	}))
	defer srv.Close()

	p := New(srv.URL)
	resp, err := p.Call(context.Background(), proto.ConnectRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "wrapped" {
		t.Fatalf("content = %q", resp.Message.Content)
	}
}

func TestCallNon2xxReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	p := New(srv.URL)
	_, err := p.Call(context.Background(), proto.ConnectRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	statusErr, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("err = %T, want *StatusError", err)
	}
	if statusErr.StatusCode != 500 || statusErr.Body != "boom" {
		t.Fatalf("statusErr = %+v", statusErr)
	}
}

func TestCallCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := New(srv.URL)
	_, err := p.Call(ctx, proto.ConnectRequest{})
	if err == nil {
		t.Fatal("expected a cancellation/timeout error")
	}
}
