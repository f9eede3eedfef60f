package wa

import (
	"sync"
	"time"

	"github.com/MatheusHenriquePires/S-crm/internal/driver"
)

const (
	StatusDisconnected = "disconnected"
	StatusPending      = "pending"
	StatusConnected    = "connected"

	ChannelQR    = "qr"
	ChannelCloud = "cloud"
	ChannelNone  = "none"
)

// ConnectionState is the externally visible status of one account session.
type ConnectionState struct {
	Status        string    `json:"status"`
	ChannelType   string    `json:"channel_type"`
	QRCode        string    `json:"qr_code,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// accountState bundles the live runtime of one account: the driver handle
// plus the flags that serialize lifecycle transitions.
type accountState struct {
	mu               sync.Mutex
	conn             ConnectionState
	handle           driver.Handle
	decryptCount     int
	decryptLast      time.Time
	resetInFlight    bool
	startInFlight    bool
	backfillInFlight bool
}

// Registry holds per-account runtime state. Accounts are materialized
// lazily; an account nobody asked about is simply disconnected.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*accountState
}

func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*accountState)}
}

func (r *Registry) account(accountID string) *accountState {
	r.mu.RLock()
	st, ok := r.accounts[accountID]
	r.mu.RUnlock()
	if ok {
		return st
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.accounts[accountID]; ok {
		return st
	}
	st = &accountState{}
	st.conn.Status = StatusDisconnected
	st.conn.ChannelType = ChannelNone
	r.accounts[accountID] = st
	return st
}

// Snapshot returns a copy of the account's connection state.
func (r *Registry) Snapshot(accountID string) ConnectionState {
	st := r.account(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn
}
