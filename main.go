package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"io"
	"log"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/khatru"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"gitea.girino.org/girino/tracker-relay/trackerstore"
)

type RelayInfo struct {
	RelayName   string
	AddressNpub string
	AddressHex  string
	Stored      int
	Capacity    int
}

type RelayPointers struct {
	relay   *khatru.Relay
	wrapper *eventstore.RelayWrapper
	db      *trackerstore.TrackerStore
	seen    *seenFilter
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><title>{{.RelayName}}</title></head>
<body>
<h1>{{.RelayName}}</h1>
<p>npub: {{.AddressNpub}}</p>
<p>hex: {{.AddressHex}}</p>
<p>keeping the latest {{.Stored}} of at most {{.Capacity}} events</p>
</body>
</html>
`))

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	// Set memory limit
	const memoryLimit = 2048 * 1024 * 1024 // 2GB
	debug.SetMemoryLimit(memoryLimit)

	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	// relay connection noise
	nostr.InfoLogger = log.New(io.Discard, "", 0)

	if err := loadDotEnv(*envPath); err != nil {
		slog.Error("failed to load env file", "err", err)
		os.Exit(1)
	}
	config, err := readConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	lvl, _ := parseLevel(config.LogLevel)
	level.Set(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Create a channel for events
	eventChannel := make(chan *nostr.Event, 100)

	rp, err := createRelay(ctx, config, eventChannel)
	if err != nil {
		slog.Error("failed to create relay", "err", err)
		os.Exit(1)
	}

	go copyFromUpstream(ctx, config.Relays, rp)
	go forwardEvents(ctx, config.WriteRelays, rp.seen, eventChannel)
	go monitorResources(ctx, config.StatsInterval, rp.db)
	go func() {
		err := watchConfig(ctx, *configPath, func(updated *Config) {
			if l, err := parseLevel(updated.LogLevel); err == nil {
				level.Set(l)
			}
			if updated.Capacity != config.Capacity || updated.SeenCapacity != config.SeenCapacity {
				slog.Warn("capacity changes take effect on restart",
					"capacity", updated.Capacity, "seenCapacity", updated.SeenCapacity)
			}
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	server := &http.Server{Addr: config.Listen, Handler: rp.relay}
	slog.Info("relay listening", "addr", config.Listen, "capacity", config.Capacity)
	if err := runServer(ctx, server, rp.wrapper.Close); err != nil {
		slog.Error("error starting server", "err", err)
		os.Exit(1)
	}
}

// runServer serves until ctx is done, then shuts the server down and calls
// onStop. It returns only after onStop has run.
func runServer(ctx context.Context, server *http.Server, onStop func()) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error shutting down server", "err", err)
		}
		onStop()
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

func monitorResources(ctx context.Context, interval time.Duration, db *trackerstore.TrackerStore) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var m runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.ReadMemStats(&m)
			slog.Info("resources",
				"goroutines", runtime.NumGoroutine(),
				"alloc_mib", m.Alloc/1024/1024,
				"sys_mib", m.Sys/1024/1024,
				"num_gc", m.NumGC,
			)
			db.LogStats()
		}
	}
}

// forwardEvents publishes saved events to the write relays, once per event
// within the seen window.
func forwardEvents(ctx context.Context, writeRelays []string, seen *seenFilter, eventChannel <-chan *nostr.Event) {
	var relays []*nostr.Relay
	for _, relayURL := range writeRelays {
		relay, err := nostr.RelayConnect(ctx, relayURL)
		if err != nil {
			slog.Warn("error connecting to relay", "url", relayURL, "err", err)
			continue
		}
		relays = append(relays, relay)
	}

	forwardLoop(ctx, seen, eventChannel, func(event *nostr.Event) {
		for i := 0; i < len(relays); i++ {
			// try reconnecting in case of disconnect
			relay := relays[i]
			var err error
			if !relay.IsConnected() {
				slog.Info("reconnecting to relay", "url", relay.URL)
				relay.Close()
				relay, err = nostr.RelayConnect(ctx, relay.URL)
				if err != nil {
					slog.Warn("error connecting to relay", "url", relays[i].URL, "err", err)
					continue
				}
				relays[i] = relay
			}
			if err := relay.Publish(ctx, *event); err != nil {
				slog.Warn("error publishing event", "id", event.ID, "url", relay.URL, "err", err)
			}
		}
	})
}

// forwardLoop hands each event from eventChannel to publish unless its id
// is still in the seen window. It returns when ctx is done.
func forwardLoop(ctx context.Context, seen *seenFilter, eventChannel <-chan *nostr.Event, publish func(*nostr.Event)) {
	for {
		select {
		case event := <-eventChannel:
			if event == nil || seen.Seen(event.ID) {
				continue
			}
			publish(event)
		case <-ctx.Done():
			return
		}
	}
}

func extractPubKey(nsec string) (hex string, npub string, err error) {
	_, privKey, err := nip19.Decode(nsec)
	if err != nil {
		return "", "", fmt.Errorf("decode nsec: %w", err)
	}
	sk, ok := privKey.(string)
	if !ok {
		return "", "", fmt.Errorf("decode nsec: not a private key")
	}
	hex, err = nostr.GetPublicKey(sk)
	if err != nil {
		return "", "", err
	}
	npub, err = nip19.EncodePublicKey(hex)
	if err != nil {
		return "", "", err
	}
	return hex, npub, nil
}

// tooBig reports whether an event exceeds what the relay accepts.
func tooBig(event *nostr.Event) bool {
	return len(event.Tags) > math.MaxUint16 || len(event.Content) > math.MaxUint16
}

// queueForward hands event to the forwarder. Once ctx is done nothing
// drains the channel, so the send gives up instead of blocking the relay.
func queueForward(ctx context.Context, eventChannel chan<- *nostr.Event, event *nostr.Event) {
	select {
	case eventChannel <- event:
	case <-ctx.Done():
		slog.Debug("not forwarding event, shutting down", "id", event.ID)
	}
}

func createRelay(ctx context.Context, config *Config, eventChannel chan<- *nostr.Event) (RelayPointers, error) {
	addressHex, addressNpub, err := extractPubKey(config.NSec)
	if err != nil {
		return RelayPointers{}, err
	}

	db := &trackerstore.TrackerStore{Capacity: config.Capacity, MaxLimit: config.MaxLimit}
	if err := db.Init(); err != nil {
		return RelayPointers{}, err
	}
	seen, err := newSeenFilter(config.SeenCapacity)
	if err != nil {
		return RelayPointers{}, err
	}

	relay := khatru.NewRelay()
	relay.Info.Name = config.RelayName
	relay.Info.PubKey = addressHex
	relay.Info.Description = fmt.Sprintf("%s: keeps the latest %d events in memory", config.RelayName, config.Capacity)

	relay.StoreEvent = append(relay.StoreEvent, db.SaveEvent)
	relay.QueryEvents = append(relay.QueryEvents, db.QueryEvents)
	relay.CountEvents = append(relay.CountEvents, db.CountEvents)
	relay.DeleteEvent = append(relay.DeleteEvent, db.DeleteEvent)
	relay.RejectEvent = append(relay.RejectEvent, func(ctx context.Context, event *nostr.Event) (bool, string) {
		if tooBig(event) {
			return true, "invalid: event too big"
		}
		return false, ""
	})

	// send to upstream
	relay.OnEventSaved = append(relay.OnEventSaved, func(_ context.Context, event *nostr.Event) {
		queueForward(ctx, eventChannel, event)
	})

	mux := relay.Router()
	mux.HandleFunc("/metrics", metricsHandler(db, seen))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		data := RelayInfo{
			RelayName:   relay.Info.Description,
			AddressNpub: addressNpub,
			AddressHex:  addressHex,
			Stored:      db.Len(),
			Capacity:    db.Capacity,
		}
		if err := indexTemplate.Execute(w, data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	return RelayPointers{
		relay:   relay,
		wrapper: &eventstore.RelayWrapper{Store: db},
		db:      db,
		seen:    seen,
	}, nil
}

// copyFromUpstream mirrors new events from the upstream relays into the
// store and broadcasts them to subscribers.
func copyFromUpstream(ctx context.Context, upstream []string, rp RelayPointers) {
	pool := nostr.NewSimplePool(ctx)
	since := nostr.Now()

	filters := []nostr.Filter{{
		Kinds: []int{
			nostr.KindArticle,
			nostr.KindDeletion,
			nostr.KindContactList,
			nostr.KindEncryptedDirectMessage,
			nostr.KindMuteList,
			nostr.KindReaction,
			nostr.KindRelayListMetadata,
			nostr.KindRepost,
			nostr.KindZapRequest,
			nostr.KindZap,
			nostr.KindTextNote,
			nostr.KindProfileMetadata,
		},
		Since: &since,
	}}
	for ev := range pool.SubMany(ctx, upstream, filters) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if tooBig(ev.Event) {
			slog.Debug("event too big, skipping", "id", ev.Event.ID)
			continue
		}
		if rp.db.Has(ev.Event.ID) {
			continue
		}
		// calls as a function so we can defer the cancel
		func() {
			eventCtx, cancel := context.WithTimeout(ctx, rp.relay.WriteWait)
			defer cancel()
			if err := rp.wrapper.Publish(eventCtx, *ev.Event); err != nil && !errors.Is(err, eventstore.ErrDupEvent) {
				slog.Warn("error storing upstream event", "id", ev.Event.ID, "err", err)
				return
			}
			rp.relay.BroadcastEvent(ev.Event)
		}()
	}
}
