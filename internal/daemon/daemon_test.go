package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/config"
	"github.com/matheus3301/chatbridge/internal/lock"
	"github.com/matheus3301/chatbridge/internal/podio"
	"github.com/matheus3301/chatbridge/internal/status"
	"github.com/matheus3301/chatbridge/internal/store"
	intsync "github.com/matheus3301/chatbridge/internal/sync"
	"github.com/matheus3301/chatbridge/internal/wazzup"
	"github.com/matheus3301/chatbridge/internal/webhook"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

// fakePodio is an in-memory Podio API backed by httptest.
type fakePodio struct {
	mu         sync.Mutex
	nextItemID int64
	comments   map[int64][]podio.Comment
	authCalls  int
}

func newFakePodio() *fakePodio {
	return &fakePodio{nextItemID: 500, comments: map[int64][]podio.Comment{}}
}

func (f *fakePodio) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		f.authCalls++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("POST /item/app/{appID}/", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		f.nextItemID++
		id := f.nextItemID
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"item_id": id})
	})
	mux.HandleFunc("POST /comment/app/{appID}/{itemID}/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value      string `json:"value"`
			ExternalID string `json:"external_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var itemID int64
		fmt.Sscanf(r.PathValue("itemID"), "%d", &itemID)
		f.addComment(itemID, body.Value, body.ExternalID, "user")
		writeJSON(w, http.StatusOK, map[string]any{"comment_id": 1})
	})
	mux.HandleFunc("GET /comment/item/{itemID}/", func(w http.ResponseWriter, r *http.Request) {
		var itemID int64
		fmt.Sscanf(r.PathValue("itemID"), "%d", &itemID)
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.comments[itemID])
	})
	return httptest.NewServer(mux)
}

func (f *fakePodio) addComment(itemID int64, value, externalID, authorType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[itemID] = append(f.comments[itemID], podio.Comment{
		CommentID:  int64(len(f.comments[itemID]) + 1),
		Value:      value,
		ExternalID: externalID,
		CreatedBy:  podio.Author{Type: authorType, Name: "Agent"},
	})
}

func (f *fakePodio) commentsFor(itemID int64) []podio.Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]podio.Comment(nil), f.comments[itemID]...)
}

// fakeWazzup records outbound sends.
type fakeWazzup struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeWazzup) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.sends = append(f.sends, body.Text)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"messageId": "out-1"})
	})
	mux.HandleFunc("PATCH /webhooks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return httptest.NewServer(mux)
}

func (f *fakeWazzup) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// bridge bundles the manually assembled components for a test run.
type bridge struct {
	db      *store.DB
	handler http.Handler
	rec     *intsync.Reconciler
	machine *status.Machine
	fp      *fakePodio
	fw      *fakeWazzup
}

func newBridge(t *testing.T) *bridge {
	t.Helper()

	fp := newFakePodio()
	podioSrv := fp.server()
	t.Cleanup(podioSrv.Close)

	fw := &fakeWazzup{}
	wazzupSrv := fw.server()
	t.Cleanup(wazzupSrv.Close)

	cfg := config.Default()
	cfg.Podio.BaseURL = podioSrv.URL
	cfg.Podio.ClientID = "id"
	cfg.Podio.ClientSecret = "secret"
	cfg.Podio.Username = "user"
	cfg.Podio.Password = "pass"
	cfg.Podio.DealsAppID = 42
	cfg.Wazzup.BaseURL = wazzupSrv.URL
	cfg.Wazzup.APIToken = "wz-token"
	cfg.Integration.PollingIntervalSecs = 1
	cfg.Integration.ErrorBackoffSecs = 1
	cfg.Database.Path = filepath.Join(t.TempDir(), "bridge.db")

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)

	pc := podio.New(cfg.Podio, cfg.HTTPTimeout(), cfg.Integration.MaxConcurrent, logger)
	wc := wazzup.New(cfg.Wazzup, cfg.HTTPTimeout(), cfg.Integration.MaxConcurrent, logger)
	fwd := intsync.NewForwarder(db, pc, cfg, b, logger)
	rec := intsync.NewReconciler(db, fwd, pc, wc, cfg, machine, b, logger)
	h := webhook.NewHandler(db, fwd, b, logger)
	mux := http.NewServeMux()
	h.Register(mux)

	if err := pc.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := wc.RegisterWebhook(context.Background(), "http://example.com/webhook/wazzup"); err != nil {
		t.Fatalf("register webhook: %v", err)
	}
	_ = machine.Transition(status.Idle)

	return &bridge{db: db, handler: mux, rec: rec, machine: machine, fp: fp, fw: fw}
}

func (b *bridge) postWebhook(t *testing.T, body string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/wazzup", strings.NewReader(body))
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body.String())
	}
}

// Full round trip against fake upstreams: an inbound WhatsApp message lands
// in Podio as a comment, an agent reply on the same item comes back out
// through Wazzup, and the bridge's own forwarded comment is never echoed.
func TestRoundTrip(t *testing.T) {
	b := newBridge(t)

	b.postWebhook(t, `{
		"messages": [{
			"messageId": "in-1",
			"channelId": "ch-1",
			"chatId": "79001234567",
			"chatType": "whatsapp",
			"status": "inbound",
			"text": "I need help with my order",
			"contact": {"name": "Alice"}
		}]
	}`)

	contact, err := b.db.GetContact("79001234567", "whatsapp")
	if err != nil || contact == nil {
		t.Fatalf("contact missing: %v", err)
	}
	deal, err := b.db.ActiveDeal(contact.ID)
	if err != nil || deal == nil {
		t.Fatalf("active deal missing: %v", err)
	}
	forwarded := b.fp.commentsFor(deal.PodioItemID)
	if len(forwarded) != 1 || !strings.Contains(forwarded[0].Value, "I need help") {
		t.Fatalf("forwarded comments = %+v", forwarded)
	}

	// Agent replies on the Podio item; the reconciler should mirror it.
	b.fp.addComment(deal.PodioItemID, "We shipped it yesterday", "", "user")

	b.rec.Start(context.Background())
	defer b.rec.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if sends := b.fw.sent(); len(sends) > 0 {
			if sends[0] != "We shipped it yesterday" {
				t.Fatalf("sent = %q", sends[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("agent reply never reached the chat")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The bridge's own forwarded comment must not have been sent back.
	for _, s := range b.fw.sent() {
		if strings.Contains(s, "I need help") {
			t.Fatalf("own comment echoed to chat: %q", s)
		}
	}
}

// Startup must never wait on upstream warm-up: only a broken store is fatal.
// With both platforms hanging at boot, the lifecycle start has to succeed
// well inside its deadline.
func TestStartupNotBlockedByHangingUpstream(t *testing.T) {
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(hang.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Podio.BaseURL = hang.URL
	cfg.Podio.ClientID = "id"
	cfg.Podio.ClientSecret = "secret"
	cfg.Podio.Username = "user"
	cfg.Podio.Password = "pass"
	cfg.Podio.DealsAppID = 42
	cfg.Wazzup.BaseURL = hang.URL
	cfg.Wazzup.APIToken = "wz-token"
	cfg.Wazzup.WebhookURL = "http://example.com/webhook/wazzup"
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Integration.PollingIntervalSecs = 1
	cfg.Database.Path = filepath.Join(dir, "bridge.db")

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	lk, err := lock.Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}

	pc := podio.New(cfg.Podio, cfg.HTTPTimeout(), cfg.Integration.MaxConcurrent, logger)
	wc := wazzup.New(cfg.Wazzup, cfg.HTTPTimeout(), cfg.Integration.MaxConcurrent, logger)
	fwd := intsync.NewForwarder(db, pc, cfg, b, logger)
	rec := intsync.NewReconciler(db, fwd, pc, wc, cfg, machine, b, logger)
	h := webhook.NewHandler(db, fwd, b, logger)
	srv := webhook.NewServer(cfg.Server.ListenAddr, h, logger)

	lc := fxtest.NewLifecycle(t)
	registerLifecycle(lc, srv, lk, pc, wc, rec, machine, cfg, logger)

	startCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	started := time.Now()
	if err := lc.Start(startCtx); err != nil {
		t.Fatalf("Start() error = %v, want nil with hung upstream", err)
	}
	if elapsed := time.Since(started); elapsed > 200*time.Millisecond {
		t.Errorf("Start() took %v, blocked on upstream warm-up", elapsed)
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelStop()
	if err := lc.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if machine.Current() != status.Stopped {
		t.Errorf("state = %s, want %s", machine.Current(), status.Stopped)
	}
}

func TestStopIsClean(t *testing.T) {
	b := newBridge(t)

	b.rec.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	b.rec.Stop()

	if got := b.machine.Current(); got != status.Stopped {
		t.Errorf("state after stop = %s, want %s", got, status.Stopped)
	}
}
