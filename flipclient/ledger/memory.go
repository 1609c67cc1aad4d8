package ledger

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// MemoryReader is an in-memory Reader used by tests and local development.
// It honors the same contract as the Solana implementation: (nil, nil) for a
// missing account, injected errors for transport failure, and change
// notifications to subscribers.
type MemoryReader struct {
	mu            sync.RWMutex
	accounts      map[solana.PublicKey]*AccountSnapshot
	getErr        error
	getDelay      time.Duration
	slot          uint64
	getCalls      int
	submitted     []*solana.Transaction
	subscriptions map[solana.PublicKey]map[uint64]chan AccountUpdate
	nextSubID     uint64
}

// NewMemoryReader creates an empty in-memory ledger.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{
		accounts:      make(map[solana.PublicKey]*AccountSnapshot),
		subscriptions: make(map[solana.PublicKey]map[uint64]chan AccountUpdate),
		slot:          1,
	}
}

// SetAccount installs or replaces an account and notifies subscribers.
func (m *MemoryReader) SetAccount(addr solana.PublicKey, data []byte, lamports uint64) {
	m.mu.Lock()
	m.slot++
	snapshot := &AccountSnapshot{
		Address:   addr,
		Lamports:  lamports,
		Data:      data,
		Slot:      m.slot,
		FetchedAt: time.Now(),
	}
	m.accounts[addr] = snapshot
	subs := m.subscribersLocked(addr)
	m.mu.Unlock()

	m.notify(subs, AccountUpdate{Address: addr, Snapshot: snapshot})
}

// DeleteAccount removes an account (as after on-chain closure) and notifies
// subscribers with a nil snapshot.
func (m *MemoryReader) DeleteAccount(addr solana.PublicKey) {
	m.mu.Lock()
	m.slot++
	delete(m.accounts, addr)
	subs := m.subscribersLocked(addr)
	m.mu.Unlock()

	m.notify(subs, AccountUpdate{Address: addr})
}

// FailGets makes subsequent GetAccount calls return err; nil restores
// normal behavior.
func (m *MemoryReader) FailGets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// SetGetDelay makes GetAccount block for d before answering, to simulate a
// slow endpoint.
func (m *MemoryReader) SetGetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getDelay = d
}

// GetCalls returns how many GetAccount calls have been made.
func (m *MemoryReader) GetCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCalls
}

// SubmittedTransactions returns all transactions passed to SubmitTransaction.
func (m *MemoryReader) SubmittedTransactions() []*solana.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*solana.Transaction, len(m.submitted))
	copy(out, m.submitted)
	return out
}

func (m *MemoryReader) GetAccount(ctx context.Context, addr solana.PublicKey) (*AccountSnapshot, error) {
	m.mu.Lock()
	m.getCalls++
	err := m.getErr
	delay := m.getDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.accounts[addr]
	if !ok {
		return nil, nil
	}
	clone := *snapshot
	return &clone, nil
}

func (m *MemoryReader) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if ctx.Err() != nil {
		return solana.Signature{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, tx)

	// Deterministic pseudo-signature derived from the submission index
	var sig solana.Signature
	sum := sha256.Sum256([]byte{byte(len(m.submitted))})
	copy(sig[:], sum[:])
	copy(sig[32:], sum[:])
	return sig, nil
}

func (m *MemoryReader) SubscribeAccount(addr solana.PublicKey) (<-chan AccountUpdate, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	ch := make(chan AccountUpdate, 8)
	if m.subscriptions[addr] == nil {
		m.subscriptions[addr] = make(map[uint64]chan AccountUpdate)
	}
	m.subscriptions[addr][id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.subscriptions[addr]; ok {
			if c, ok := subs[id]; ok {
				close(c)
				delete(subs, id)
			}
		}
	}
}

func (m *MemoryReader) LatestSlot(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot, nil
}

func (m *MemoryReader) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Deterministic per-slot blockhash
	var hash solana.Hash
	sum := sha256.Sum256([]byte{byte(m.slot), byte(m.slot >> 8)})
	copy(hash[:], sum[:])
	return hash, nil
}

func (m *MemoryReader) Healthy(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getErr
}

// subscribersLocked snapshots subscriber channels. Callers hold m.mu.
func (m *MemoryReader) subscribersLocked(addr solana.PublicKey) []chan AccountUpdate {
	subs := make([]chan AccountUpdate, 0, len(m.subscriptions[addr]))
	for _, ch := range m.subscriptions[addr] {
		subs = append(subs, ch)
	}
	return subs
}

func (m *MemoryReader) notify(subs []chan AccountUpdate, update AccountUpdate) {
	for _, ch := range subs {
		select {
		case ch <- update:
		default:
		}
	}
}
