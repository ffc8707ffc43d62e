package services

import (
	"sync"
	"time"

	"github.com/jaredcannon/device-metrics-hub/internal/logs"
)

// SymbolMailbox is a single pending symbol shared by every polling client.
// Set overwrites any undelivered symbol; Poll hands it to exactly one caller.
type SymbolMailbox struct {
	mu            sync.Mutex
	symbol        string
	pending       bool
	setAt         time.Time
	broadcastFunc BroadcastFunc
}

// PendingSymbol is the mailbox content as shown to operators
type PendingSymbol struct {
	Symbol *string    `json:"symbol"`
	SetAt  *time.Time `json:"set_at,omitempty"`
}

// NewSymbolMailbox creates an empty mailbox
func NewSymbolMailbox() *SymbolMailbox {
	return &SymbolMailbox{}
}

// SetBroadcastFunc sets the WebSocket broadcast function
func (m *SymbolMailbox) SetBroadcastFunc(fn BroadcastFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastFunc = fn
}

// Set normalizes and stores symbol, replacing any pending one
func (m *SymbolMailbox) Set(raw string) (string, error) {
	symbol, err := NormalizeSymbol(raw)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	replaced := ""
	if m.pending {
		replaced = m.symbol
	}
	m.symbol = symbol
	m.pending = true
	m.setAt = time.Now()
	broadcast := m.broadcastFunc
	m.mu.Unlock()

	entry := logs.Component("mailbox").WithField("symbol", symbol)
	if replaced != "" && replaced != symbol {
		entry = entry.WithField("discarded", replaced)
	}
	entry.Info("pending symbol set")

	if broadcast != nil {
		broadcast("mailbox", "symbol_set", map[string]string{"symbol": symbol})
	}
	return symbol, nil
}

// Poll returns the pending symbol and empties the mailbox. ok is false when
// nothing was pending.
func (m *SymbolMailbox) Poll() (symbol string, ok bool) {
	m.mu.Lock()
	if !m.pending {
		m.mu.Unlock()
		return "", false
	}
	symbol = m.symbol
	m.symbol = ""
	m.pending = false
	m.setAt = time.Time{}
	broadcast := m.broadcastFunc
	m.mu.Unlock()

	if broadcast != nil {
		broadcast("mailbox", "symbol_delivered", map[string]string{"symbol": symbol})
	}
	return symbol, true
}

// Peek returns the pending symbol without removing it
func (m *SymbolMailbox) Peek() (symbol string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbol, m.pending
}

// Pending returns the mailbox content for display
func (m *SymbolMailbox) Pending() PendingSymbol {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending {
		return PendingSymbol{}
	}
	symbol, setAt := m.symbol, m.setAt
	return PendingSymbol{Symbol: &symbol, SetAt: &setAt}
}
