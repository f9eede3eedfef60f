package wa

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatheusHenriquePires/S-crm/internal/driver"
	"github.com/MatheusHenriquePires/S-crm/internal/stream"
)

func TestGetStatusDefaultsToDisconnected(t *testing.T) {
	svc, _, _, _ := newTestEnv(t)
	state := svc.GetStatus("never-seen")
	assert.Equal(t, StatusDisconnected, state.Status)
	assert.Empty(t, state.QRCode)
}

func TestStartSessionEmitsQR(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)

	state := svc.StartSession(context.Background(), "acc1", false)
	assert.Equal(t, StatusPending, state.Status)
	assert.Equal(t, "QR-TEST-1", state.QRCode)
	assert.Equal(t, ChannelQR, state.ChannelType)
	assert.Equal(t, 1, drv.connectCount())

	// session dir created for the account
	_, err := os.Stat(svc.sessionDir("acc1"))
	assert.NoError(t, err)
}

func TestConcurrentStartsCoalesce(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)
	drv.delay = 50 * time.Millisecond

	const n = 10
	var wg sync.WaitGroup
	states := make([]ConnectionState, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i] = svc.StartSession(context.Background(), "acc1", false)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, drv.connectCount())
	for _, st := range states {
		assert.Equal(t, StatusPending, st.Status)
	}
}

func TestStartSessionAlreadyConnectedIsNoop(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)
	drv.emitOnline = true

	first := svc.StartSession(context.Background(), "acc1", false)
	assert.Equal(t, StatusConnected, first.Status)

	second := svc.StartSession(context.Background(), "acc1", false)
	assert.Equal(t, StatusConnected, second.Status)
	assert.Equal(t, 1, drv.connectCount())
}

func TestResetReleasesOldHandleFirst(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)
	drv.emitOnline = true

	svc.StartSession(context.Background(), "acc1", false)
	require.Len(t, drv.handles, 1)
	old := drv.handles[0]

	svc.StartSession(context.Background(), "acc1", true)
	require.Len(t, drv.handles, 2)

	old.mu.Lock()
	released := old.logouts > 0 && old.closes > 0
	old.mu.Unlock()
	assert.True(t, released)
	assert.Equal(t, 2, drv.connectCount())
}

func TestConnectFailureClassification(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)
	drv.failErr = errors.New("boom")

	state := svc.StartSession(context.Background(), "acc1", false)
	assert.Equal(t, StatusDisconnected, state.Status)
	assert.Equal(t, "create_failed", state.LastError)

	drv.mu.Lock()
	drv.failErr = errors.Wrap(driver.ErrRuntimeMissing, "no sqlite")
	drv.mu.Unlock()
	state = svc.StartSession(context.Background(), "acc2", false)
	assert.Equal(t, StatusDisconnected, state.Status)
	assert.Equal(t, "runtime_missing", state.LastError)
}

func TestConfirmConnectedClearsQR(t *testing.T) {
	svc, _, _, _ := newTestEnv(t)

	state := svc.StartSession(context.Background(), "acc1", false)
	require.Equal(t, StatusPending, state.Status)
	require.NotEmpty(t, state.QRCode)

	state = svc.ConfirmConnected("acc1")
	assert.Equal(t, StatusConnected, state.Status)
	assert.Empty(t, state.QRCode)
}

func TestStartSessionWhilePendingReusesSession(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)

	first := svc.StartSession(context.Background(), "acc1", false)
	require.Equal(t, StatusPending, first.Status)
	require.Equal(t, "QR-TEST-1", first.QRCode)
	require.Equal(t, 1, drv.connectCount())

	// the bootstrap has fully finished: QR on screen, nothing in flight
	st := svc.reg.account("acc1")
	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return !st.startInFlight && st.handle != nil
	}, 2*time.Second, 10*time.Millisecond)

	second := svc.StartSession(context.Background(), "acc1", false)
	assert.Equal(t, StatusPending, second.Status)
	assert.Equal(t, "QR-TEST-1", second.QRCode)
	assert.Equal(t, 1, drv.connectCount())

	h := drv.handles[0]
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Zero(t, h.logouts)
	assert.Zero(t, h.closes)
}

func TestDisconnectRefusedWhileStartInFlight(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)
	drv.emitOnline = true

	st := svc.reg.account("acc1")
	st.mu.Lock()
	st.startInFlight = true
	st.mu.Unlock()
	require.Error(t, svc.Disconnect("acc1"))

	st.mu.Lock()
	st.startInFlight = false
	st.mu.Unlock()

	svc.StartSession(context.Background(), "acc1", false)
	require.NoError(t, svc.Disconnect("acc1"))
}

func TestDisconnectRemovesArtifacts(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)
	drv.emitOnline = true

	svc.StartSession(context.Background(), "acc1", false)
	dir := svc.sessionDir("acc1")
	_, err := os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, svc.Disconnect("acc1"))
	assert.Equal(t, StatusDisconnected, svc.GetStatus("acc1").Status)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	h := drv.handles[0]
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.NotZero(t, h.logouts)
	assert.NotZero(t, h.closes)
}

func TestEnsureLiveSocketRehydrates(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)
	drv.emitOnline = true

	// no artifacts on disk: nothing happens
	svc.EnsureLiveSocket("acc1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, drv.connectCount())

	// artifacts without a runtime: one start
	require.NoError(t, os.MkdirAll(svc.sessionDir("acc1"), 0o750))
	svc.EnsureLiveSocket("acc1")
	require.Eventually(t, func() bool {
		return svc.GetStatus("acc1").Status == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, drv.connectCount())

	// live runtime: no second start
	svc.EnsureLiveSocket("acc1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, drv.connectCount())
}

func TestDecryptFailureBurstForcesReset(t *testing.T) {
	svc, _, drv, hub := newTestEnv(t)
	drv.emitOnline = true

	svc.StartSession(context.Background(), "acc1", false)
	require.Equal(t, 1, drv.connectCount())

	events, cancel := hub.Subscribe("acc1")
	defer cancel()

	for i := 0; i < decryptFailureLimit; i++ {
		svc.RegisterDecryptFailure("acc1")
	}

	select {
	case ev := <-events:
		assert.Equal(t, stream.EventQRRequired, ev.Type)
		assert.Equal(t, "decrypt_failed", ev.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("expected qr_required event")
	}

	require.Eventually(t, func() bool {
		return drv.connectCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScatteredDecryptFailuresDoNotReset(t *testing.T) {
	svc, _, drv, _ := newTestEnv(t)
	drv.emitOnline = true
	svc.StartSession(context.Background(), "acc1", false)

	st := svc.reg.account("acc1")
	for i := 0; i < decryptFailureLimit-1; i++ {
		svc.RegisterDecryptFailure("acc1")
	}
	// age the window out, then fail once more
	st.mu.Lock()
	st.decryptLast = time.Now().Add(-decryptFailureWindow - time.Second)
	st.mu.Unlock()
	svc.RegisterDecryptFailure("acc1")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, drv.connectCount())
}
