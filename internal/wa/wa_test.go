package wa

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MatheusHenriquePires/S-crm/config"
	"github.com/MatheusHenriquePires/S-crm/internal/domain"
	"github.com/MatheusHenriquePires/S-crm/internal/driver"
	"github.com/MatheusHenriquePires/S-crm/internal/store"
	"github.com/MatheusHenriquePires/S-crm/internal/stream"
)

type sentCall struct {
	address string
	body    string
	quoted  string
}

type fakeDriver struct {
	mu         sync.Mutex
	connects   int
	failErr    error
	delay      time.Duration
	emitQR     string
	emitOnline bool
	handles    []*fakeHandle

	failQuoted bool
	sendErr    error
	chats      []driver.Chat
	history    map[string][]driver.RawMessage
	photo      string
}

func (d *fakeDriver) Connect(ctx context.Context, accountID, sessionDir string, reset bool, hooks driver.Hooks) (driver.Handle, error) {
	d.mu.Lock()
	d.connects++
	fail := d.failErr
	delay := d.delay
	d.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != nil {
		return nil, fail
	}
	h := &fakeHandle{drv: d}
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	if d.emitQR != "" {
		hooks.OnQRCode(d.emitQR)
	}
	if d.emitOnline {
		hooks.OnConnected()
	}
	return h, nil
}

func (d *fakeDriver) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

type fakeHandle struct {
	drv     *fakeDriver
	mu      sync.Mutex
	sent    []sentCall
	logouts int
	closes  int
}

func (h *fakeHandle) SendText(ctx context.Context, address, body string, opts driver.SendOptions) (driver.SendResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.drv.sendErr != nil {
		return driver.SendResult{}, h.drv.sendErr
	}
	if opts.QuotedMessageID != "" && h.drv.failQuoted {
		return driver.SendResult{}, errors.New("quote rejected")
	}
	h.sent = append(h.sent, sentCall{address: address, body: body, quoted: opts.QuotedMessageID})
	return driver.SendResult{ID: fmt.Sprintf("FAKE.%d", len(h.sent)), Ack: 1}, nil
}

func (h *fakeHandle) Logout() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logouts++
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func (h *fakeHandle) FetchAllChats(ctx context.Context) ([]driver.Chat, error) {
	return h.drv.chats, nil
}

func (h *fakeHandle) FetchMessagesInChat(ctx context.Context, chatID string) ([]driver.RawMessage, error) {
	return h.drv.history[chatID], nil
}

func (h *fakeHandle) ProfilePhoto(ctx context.Context, address string) (string, error) {
	return h.drv.photo, nil
}

func (h *fakeHandle) sentCalls() []sentCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]sentCall, len(h.sent))
	copy(out, h.sent)
	return out
}

func newTestEnv(t *testing.T) (*Service, *store.Store, *fakeDriver, *stream.Hub) {
	t.Helper()
	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "scrm.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrator().AutoMigrate(domain.Tables...))

	cfg := new(config.AppConfig)
	*cfg = *config.DefaultAppConfig
	cfg.System.Workdir = dir
	cfg.WhatsApp.SessionDir = filepath.Join(dir, "sessions")
	cfg.WhatsApp.StartTimeoutSec = 1
	cfg.WhatsApp.WorkerPoolSize = 8

	st := store.NewStore(db, cfg.DedupWindow())
	bus := EventBus.New()
	hub := stream.NewHub()
	require.NoError(t, hub.BindBus(bus))

	drv := &fakeDriver{emitQR: "QR-TEST-1"}
	svc, err := New(cfg, st, drv, bus, NewRegistry())
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, st, drv, hub
}

func inboundRaw(id, from, body string, ts time.Time) driver.RawMessage {
	return driver.RawMessage{
		"id":        id,
		"from":      from,
		"fromMe":    false,
		"type":      "chat",
		"body":      body,
		"timestamp": ts.Unix(),
	}
}
