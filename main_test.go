package main

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestExtractPubKey(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		t.Fatalf("EncodePrivateKey: %v", err)
	}
	want, _ := nostr.GetPublicKey(sk)

	hex, npub, err := extractPubKey(nsec)
	if err != nil {
		t.Fatalf("extractPubKey: %v", err)
	}
	if hex != want {
		t.Errorf("hex: got %q, want %q", hex, want)
	}
	if !strings.HasPrefix(npub, "npub1") {
		t.Errorf("npub: got %q", npub)
	}
}

func TestExtractPubKey_Invalid(t *testing.T) {
	if _, _, err := extractPubKey("not-an-nsec"); err == nil {
		t.Fatal("expected error for garbage nsec")
	}
}

func TestTooBig(t *testing.T) {
	if tooBig(&nostr.Event{Content: "hello"}) {
		t.Error("small event reported too big")
	}
	if !tooBig(&nostr.Event{Content: strings.Repeat("x", math.MaxUint16+1)}) {
		t.Error("oversized content not reported")
	}
	if !tooBig(&nostr.Event{Tags: make(nostr.Tags, math.MaxUint16+1)}) {
		t.Error("oversized tags not reported")
	}
}

func TestCreateRelay(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	nsec, _ := nip19.EncodePrivateKey(sk)
	cfg := defaults()
	cfg.NSec = nsec
	cfg.RelayName = "test"
	cfg.Capacity = 3

	rp, err := createRelay(context.Background(), cfg, make(chan *nostr.Event, 1))
	if err != nil {
		t.Fatalf("createRelay: %v", err)
	}
	if rp.db.Capacity != 3 {
		t.Errorf("store capacity: got %d, want 3", rp.db.Capacity)
	}
	if rp.relay.Info.Name != "test" {
		t.Errorf("relay name: got %q", rp.relay.Info.Name)
	}
	if len(rp.relay.StoreEvent) == 0 || len(rp.relay.QueryEvents) == 0 {
		t.Error("store hooks not installed")
	}
}

func TestCreateRelay_BadKey(t *testing.T) {
	cfg := defaults()
	cfg.NSec = "nope"
	if _, err := createRelay(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for bad nsec")
	}
}

func TestOnEventSaved_DoesNotBlockAfterShutdown(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	nsec, _ := nip19.EncodePrivateKey(sk)
	cfg := defaults()
	cfg.NSec = nsec

	ctx, cancel := context.WithCancel(context.Background())
	eventChannel := make(chan *nostr.Event, 1)
	rp, err := createRelay(ctx, cfg, eventChannel)
	if err != nil {
		t.Fatalf("createRelay: %v", err)
	}

	hook := rp.relay.OnEventSaved[len(rp.relay.OnEventSaved)-1]
	hook(context.Background(), &nostr.Event{ID: "first"})
	if got := <-eventChannel; got.ID != "first" {
		t.Fatalf("forwarded: got %q, want first", got.ID)
	}

	// fill the buffer, then nothing drains it any more
	hook(context.Background(), &nostr.Event{ID: "fill"})
	cancel()

	done := make(chan struct{})
	go func() {
		hook(context.Background(), &nostr.Event{ID: "late"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnEventSaved blocked on a full channel after shutdown")
	}
}

func TestForwardLoop_SkipsSeen(t *testing.T) {
	seen, err := newSeenFilter(2)
	if err != nil {
		t.Fatalf("newSeenFilter: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	eventChannel := make(chan *nostr.Event)
	published := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		forwardLoop(ctx, seen, eventChannel, func(event *nostr.Event) {
			published <- event.ID
		})
		close(done)
	}()

	// a and b fill the window, c pushes a out so the last a goes through
	for _, id := range []string{"a", "a", "b", "a", "c", "a"} {
		eventChannel <- &nostr.Event{ID: id}
	}
	eventChannel <- nil
	cancel()
	<-done
	close(published)

	var got []string
	for id := range published {
		got = append(got, id)
	}
	if strings.Join(got, ",") != "a,b,c,a" {
		t.Errorf("published: got %v, want [a b c a]", got)
	}
}

func TestRunServer_StopsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	var stopped atomic.Bool
	errc := make(chan error, 1)
	go func() {
		errc <- runServer(ctx, server, func() { stopped.Store(true) })
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("runServer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServer did not return after cancel")
	}
	if !stopped.Load() {
		t.Error("runServer returned before onStop ran")
	}
}
