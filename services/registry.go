package services

import "sync"

// SubscriptionRegistry tracks which connections want updates for which
// symbols. Both directions are indexed under one lock so the two views
// can never disagree.
type SubscriptionRegistry struct {
	mu       sync.RWMutex
	bySymbol map[string]map[string]struct{}
	byConn   map[string]map[string]struct{}
}

// NewSubscriptionRegistry creates an empty registry
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		bySymbol: make(map[string]map[string]struct{}),
		byConn:   make(map[string]map[string]struct{}),
	}
}

// Subscribe records a connection's interest in a symbol.
// Subscribing twice is a no-op.
func (r *SubscriptionRegistry) Subscribe(connID, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bySymbol[symbol] == nil {
		r.bySymbol[symbol] = make(map[string]struct{})
	}
	r.bySymbol[symbol][connID] = struct{}{}

	if r.byConn[connID] == nil {
		r.byConn[connID] = make(map[string]struct{})
	}
	r.byConn[connID][symbol] = struct{}{}
}

// Unsubscribe removes a connection's interest in a symbol.
// Unknown pairs are no-ops.
func (r *SubscriptionRegistry) Unsubscribe(connID, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.bySymbol[symbol]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.bySymbol, symbol)
		}
	}
	if symbols, ok := r.byConn[connID]; ok {
		delete(symbols, symbol)
		if len(symbols) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// SubscribersOf returns the connections subscribed to a symbol.
// A symbol nobody watches returns an empty slice.
func (r *SubscriptionRegistry) SubscribersOf(symbol string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.bySymbol[symbol]
	out := make([]string, 0, len(conns))
	for connID := range conns {
		out = append(out, connID)
	}
	return out
}

// SymbolsOf returns the symbols a connection is subscribed to
func (r *SubscriptionRegistry) SymbolsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	symbols := r.byConn[connID]
	out := make([]string, 0, len(symbols))
	for symbol := range symbols {
		out = append(out, symbol)
	}
	return out
}

// Symbols returns every symbol with at least one subscriber
func (r *SubscriptionRegistry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.bySymbol))
	for symbol := range r.bySymbol {
		out = append(out, symbol)
	}
	return out
}

// RemoveConnection drops every subscription held by a connection
func (r *SubscriptionRegistry) RemoveConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol := range r.byConn[connID] {
		if conns, ok := r.bySymbol[symbol]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.bySymbol, symbol)
			}
		}
	}
	delete(r.byConn, connID)
}

// Counts reports the number of watched symbols and subscribed connections
func (r *SubscriptionRegistry) Counts() (symbols, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySymbol), len(r.byConn)
}
