package wa

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/MatheusHenriquePires/S-crm/internal/driver"
	"github.com/MatheusHenriquePires/S-crm/internal/stream"
)

const (
	decryptFailureLimit  = 5
	decryptFailureWindow = 30 * time.Second
)

func (s *Service) sessionDir(accountID string) string {
	return filepath.Join(s.cfg.SessionBaseDir(), accountID)
}

// GetStatus reports the current connection state without side effects.
func (s *Service) GetStatus(accountID string) ConnectionState {
	return s.reg.Snapshot(accountID)
}

// StartSession brings up a QR session for the account. Concurrent calls
// for the same account coalesce into a single bootstrap; each caller gets
// the state reached within the start timeout, which normally carries a QR
// code or an already-connected status.
func (s *Service) StartSession(ctx context.Context, accountID string, reset bool) ConnectionState {
	st := s.reg.account(accountID)
	st.mu.Lock()
	if !reset {
		// A live runtime that is connected, or still pending with its QR
		// on screen, is reused as-is. Restarting it would invalidate the
		// code the operator is about to scan.
		if st.handle != nil && (st.conn.Status == StatusConnected || st.conn.Status == StatusPending) {
			cur := st.conn
			st.mu.Unlock()
			return cur
		}
		if st.startInFlight && st.conn.QRCode != "" {
			cur := st.conn
			st.mu.Unlock()
			return cur
		}
	}
	st.mu.Unlock()

	ch := s.starts.DoChan(accountID, func() (interface{}, error) {
		s.runStart(accountID, reset)
		return nil, nil
	})
	select {
	case <-ch:
	case <-time.After(s.cfg.StartTimeout()):
	case <-ctx.Done():
	}
	return s.GetStatus(accountID)
}

func (s *Service) runStart(accountID string, reset bool) {
	st := s.reg.account(accountID)
	dir := s.sessionDir(accountID)

	st.mu.Lock()
	if st.startInFlight {
		st.mu.Unlock()
		return
	}
	st.startInFlight = true
	old := st.handle
	st.handle = nil
	st.conn.Status = StatusPending
	st.conn.ChannelType = ChannelQR
	st.conn.QRCode = ""
	st.conn.LastError = ""
	st.conn.LastUpdatedAt = time.Now()
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		st.startInFlight = false
		st.mu.Unlock()
	}()

	// The previous runtime must be fully released before a replacement
	// touches the same session directory.
	releaseHandle(accountID, old)
	if reset {
		if err := os.RemoveAll(dir); err != nil {
			zap.L().Warn("wa: remove session dir", zap.String("account", accountID), zap.Error(err))
		}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		s.setState(accountID, func(c *ConnectionState) {
			c.Status = StatusDisconnected
			c.LastError = "create_failed"
		})
		zap.L().Error("wa: create session dir", zap.String("account", accountID), zap.Error(err))
		return
	}

	ready := make(chan struct{})
	var once sync.Once
	signalReady := func() { once.Do(func() { close(ready) }) }

	hooks := driver.Hooks{
		OnQRCode: func(code string) {
			s.setState(accountID, func(c *ConnectionState) {
				c.Status = StatusPending
				c.QRCode = code
			})
			signalReady()
		},
		OnConnected: func() {
			s.setState(accountID, func(c *ConnectionState) {
				c.Status = StatusConnected
				c.QRCode = ""
				c.LastError = ""
			})
			s.publish(stream.Event{Type: stream.EventConnected, AccountID: accountID})
			signalReady()
			go s.backfill(accountID)
		},
		OnDisconnected: func(reason string) {
			s.setState(accountID, func(c *ConnectionState) {
				c.Status = StatusDisconnected
				c.QRCode = ""
				c.LastError = reason
			})
			signalReady()
		},
		OnMessage: func(raw driver.RawMessage) {
			if _, err := s.Ingest(context.Background(), accountID, raw, ""); err != nil {
				zap.L().Warn("wa: ingest live message", zap.String("account", accountID), zap.Error(err))
			}
		},
		OnAck: func(providerMessageID string, ack int) {
			if err := s.RecordAck(context.Background(), accountID, providerMessageID, ack); err != nil {
				zap.L().Warn("wa: record ack", zap.String("account", accountID), zap.Error(err))
			}
		},
		OnDecryptFailure: func() {
			s.RegisterDecryptFailure(accountID)
		},
	}

	handle, err := s.drv.Connect(context.Background(), accountID, dir, reset, hooks)
	if err != nil {
		reason := "create_failed"
		if errors.Is(err, driver.ErrRuntimeMissing) {
			reason = "runtime_missing"
		}
		s.setState(accountID, func(c *ConnectionState) {
			c.Status = StatusDisconnected
			c.LastError = reason
		})
		zap.L().Error("wa: connect driver", zap.String("account", accountID), zap.String("reason", reason), zap.Error(err))
		return
	}

	st.mu.Lock()
	st.handle = handle
	connected := st.conn.Status == StatusConnected
	st.mu.Unlock()
	// A driver that reports connected before Connect returns fires the
	// hook while the handle is still unset and backfill cannot run; the
	// in-flight guard makes this second launch a no-op otherwise.
	if connected {
		go s.backfill(accountID)
	}

	select {
	case <-ready:
	case <-time.After(s.cfg.StartTimeout()):
	}
}

// ConfirmConnected flips the account to connected after the operator
// scanned the QR code, without waiting for the driver's own event.
func (s *Service) ConfirmConnected(accountID string) ConnectionState {
	return s.setState(accountID, func(c *ConnectionState) {
		c.Status = StatusConnected
		c.ChannelType = ChannelQR
		c.QRCode = ""
		c.LastError = ""
	})
}

// Disconnect tears down the session and deletes its stored artifacts so
// the next start pairs from scratch.
func (s *Service) Disconnect(accountID string) error {
	st := s.reg.account(accountID)
	st.mu.Lock()
	if st.startInFlight {
		// Tearing down mid-bootstrap would orphan the handle the start
		// is about to store and delete the dir it just created.
		st.mu.Unlock()
		return errors.New("session start in flight, retry shortly")
	}
	h := st.handle
	st.handle = nil
	st.conn.Status = StatusDisconnected
	st.conn.ChannelType = ChannelQR
	st.conn.QRCode = ""
	st.conn.LastError = ""
	st.conn.LastUpdatedAt = time.Now()
	st.mu.Unlock()

	releaseHandle(accountID, h)
	if err := os.RemoveAll(s.sessionDir(accountID)); err != nil {
		return errors.Wrap(err, "remove session dir")
	}
	return nil
}

// EnsureLiveSocket rehydrates a session whose credentials survive on disk
// but whose runtime is gone, typically after a process restart. It is a
// no-op when a runtime exists or a start is already in flight.
func (s *Service) EnsureLiveSocket(accountID string) {
	st := s.reg.account(accountID)
	st.mu.Lock()
	busy := st.handle != nil || st.startInFlight || st.resetInFlight
	st.mu.Unlock()
	if busy {
		return
	}
	if _, err := os.Stat(s.sessionDir(accountID)); err != nil {
		return
	}
	zap.L().Info("wa: rehydrating session from stored artifacts", zap.String("account", accountID))
	go s.StartSession(context.Background(), accountID, false)
}

// RegisterDecryptFailure counts decryption failures and forces a full
// reset once the account accumulates too many inside a short window,
// which is the signature of corrupted session keys.
func (s *Service) RegisterDecryptFailure(accountID string) {
	st := s.reg.account(accountID)
	st.mu.Lock()
	now := time.Now()
	if now.Sub(st.decryptLast) < decryptFailureWindow {
		st.decryptCount++
	} else {
		st.decryptCount = 1
	}
	st.decryptLast = now
	trigger := st.decryptCount >= decryptFailureLimit && !st.resetInFlight
	if trigger {
		st.resetInFlight = true
		st.decryptCount = 0
	}
	st.mu.Unlock()
	if !trigger {
		return
	}

	zap.L().Warn("wa: repeated decrypt failures, forcing session reset", zap.String("account", accountID))
	s.publish(stream.Event{Type: stream.EventQRRequired, AccountID: accountID, Reason: "decrypt_failed"})
	go func() {
		defer func() {
			st.mu.Lock()
			st.resetInFlight = false
			st.mu.Unlock()
		}()
		s.StartSession(context.Background(), accountID, true)
	}()
}

func (s *Service) setState(accountID string, mut func(*ConnectionState)) ConnectionState {
	st := s.reg.account(accountID)
	st.mu.Lock()
	mut(&st.conn)
	st.conn.LastUpdatedAt = time.Now()
	cur := st.conn
	st.mu.Unlock()
	return cur
}

func releaseHandle(accountID string, h driver.Handle) {
	if h == nil {
		return
	}
	if err := h.Logout(); err != nil {
		zap.L().Debug("wa: logout old handle", zap.String("account", accountID), zap.Error(err))
	}
	if err := h.Close(); err != nil {
		zap.L().Debug("wa: close old handle", zap.String("account", accountID), zap.Error(err))
	}
}
