package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/javanstorm/vmxfer/internal/transfer"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/rs/zerolog"
)

func fastRetry() Option {
	return WithRetry(3, time.Millisecond, 5*time.Millisecond)
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var hits int32
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := Payload{TransferID: "t1", Direction: "export", Succeeded: true}
	if err := NewWebhook(srv.URL, zerolog.Nop(), fastRetry()).Notify(context.Background(), p); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if hits != 2 {
		t.Errorf("server hit %d times, want 2", hits)
	}
	if got.TransferID != "t1" || !got.Succeeded {
		t.Errorf("received payload = %+v", got)
	}
}

func TestNotifyClientErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, zerolog.Nop(), fastRetry()).Notify(context.Background(), Payload{TransferID: "t1"})
	if err == nil {
		t.Fatal("Notify() succeeded, want error")
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want 1", hits)
	}
}

func TestNotifyGivesUp(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, zerolog.Nop(), fastRetry()).Notify(context.Background(), Payload{TransferID: "t1"})
	if err == nil {
		t.Fatal("Notify() succeeded, want error")
	}
	if hits != 4 {
		t.Errorf("server hit %d times, want 4 (1 + 3 retries)", hits)
	}
}

func TestNewPayload(t *testing.T) {
	req := &transfer.Request{Direction: transfer.DirectionImport, Source: "/payload/web", Destination: "/vms"}
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ok := NewPayload(req, transfer.Outcome{TransferID: "t1", Entity: &hypervisor.Entity{ID: "vm-1", Name: "web"}}, finished)
	if !ok.Succeeded || ok.VM == nil || ok.Kind != "" || ok.Direction != "import" {
		t.Errorf("success payload = %+v", ok)
	}

	failure := &transfer.Error{Kind: transfer.KindSpace, Detail: "need 55 GB", Err: errors.New("x")}
	bad := NewPayload(req, transfer.Outcome{TransferID: "t2", Failure: failure}, finished)
	if bad.Succeeded || bad.Kind != "SpaceError" || bad.Detail != "need 55 GB" {
		t.Errorf("failure payload = %+v", bad)
	}
}
