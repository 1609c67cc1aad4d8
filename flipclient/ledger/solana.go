package ledger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/allouf/flipCoinFull-sub000/flipclient/rpcpool"
)

// SolanaReader implements Reader over a pool of Solana RPC endpoints.
// Account subscriptions are polling-based: a single watch loop re-reads
// every watched account each interval and broadcasts changes, which keeps
// behavior identical across HTTP-only endpoints.
type SolanaReader struct {
	pool         *rpcpool.Manager
	commitment   rpc.CommitmentType
	pollInterval time.Duration
	logger       zerolog.Logger

	mu            sync.RWMutex
	subscriptions map[solana.PublicKey]map[uint64]chan AccountUpdate
	lastSeen      map[solana.PublicKey]*AccountSnapshot
	nextSubID     uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSolanaReader creates a reader over the given endpoint pool.
func NewSolanaReader(
	pool *rpcpool.Manager,
	commitment rpc.CommitmentType,
	pollInterval time.Duration,
	logger zerolog.Logger,
) *SolanaReader {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &SolanaReader{
		pool:          pool,
		commitment:    commitment,
		pollInterval:  pollInterval,
		logger:        logger.With().Str("component", "ledger_reader").Logger(),
		subscriptions: make(map[solana.PublicKey]map[uint64]chan AccountUpdate),
		lastSeen:      make(map[solana.PublicKey]*AccountSnapshot),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the subscription watch loop.
func (r *SolanaReader) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.watchLoop(ctx)
}

// Stop terminates the watch loop and closes all subscriber channels.
func (r *SolanaReader) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, subs := range r.subscriptions {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(r.subscriptions, addr)
	}
}

// GetAccount fetches one account at the configured commitment level.
// Returns (nil, nil) when the account does not exist.
func (r *SolanaReader) GetAccount(ctx context.Context, addr solana.PublicKey) (*AccountSnapshot, error) {
	endpoint, err := r.pool.SelectEndpoint()
	if err != nil {
		return nil, err
	}
	client, err := solanaClientFromEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := client.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Commitment: r.commitment,
	})
	latency := time.Since(start)

	if err != nil {
		// A missing account is a valid answer, not an endpoint failure.
		if errors.Is(err, rpc.ErrNotFound) {
			r.pool.RecordOutcome(endpoint, true, latency, nil)
			return nil, nil
		}
		r.pool.RecordOutcome(endpoint, false, latency, err)
		return nil, err
	}
	r.pool.RecordOutcome(endpoint, true, latency, nil)

	if result == nil || result.Value == nil {
		return nil, nil
	}

	return &AccountSnapshot{
		Address:   addr,
		Owner:     result.Value.Owner,
		Lamports:  result.Value.Lamports,
		Data:      result.Value.Data.GetBinary(),
		Slot:      result.RPCContext.Context.Slot,
		FetchedAt: time.Now(),
	}, nil
}

// SubmitTransaction sends a signed transaction and returns its signature.
// Confirmation is observed through subsequent account reads, never assumed.
func (r *SolanaReader) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	endpoint, err := r.pool.SelectEndpoint()
	if err != nil {
		return solana.Signature{}, err
	}
	client, err := solanaClientFromEndpoint(endpoint)
	if err != nil {
		return solana.Signature{}, err
	}

	start := time.Now()
	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: r.commitment,
	})
	r.pool.RecordOutcome(endpoint, err == nil, time.Since(start), err)
	if err != nil {
		return solana.Signature{}, err
	}

	r.logger.Info().
		Str("signature", sig.String()).
		Msg("transaction submitted")
	return sig, nil
}

// LatestSlot returns the current slot at the configured commitment level.
func (r *SolanaReader) LatestSlot(ctx context.Context) (uint64, error) {
	endpoint, err := r.pool.SelectEndpoint()
	if err != nil {
		return 0, err
	}
	client, err := solanaClientFromEndpoint(endpoint)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	slot, err := client.GetSlot(ctx, r.commitment)
	r.pool.RecordOutcome(endpoint, err == nil, time.Since(start), err)
	return slot, err
}

// LatestBlockhash returns a recent blockhash for transaction assembly.
func (r *SolanaReader) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	endpoint, err := r.pool.SelectEndpoint()
	if err != nil {
		return solana.Hash{}, err
	}
	client, err := solanaClientFromEndpoint(endpoint)
	if err != nil {
		return solana.Hash{}, err
	}

	start := time.Now()
	result, err := client.GetLatestBlockhash(ctx, r.commitment)
	r.pool.RecordOutcome(endpoint, err == nil, time.Since(start), err)
	if err != nil {
		return solana.Hash{}, err
	}
	return result.Value.Blockhash, nil
}

// Healthy reports whether at least one pool endpoint can serve requests.
func (r *SolanaReader) Healthy(ctx context.Context) error {
	endpoint, err := r.pool.SelectEndpoint()
	if err != nil {
		return err
	}
	client := endpoint.GetClient()
	if client == nil {
		return errors.New("selected endpoint has no client")
	}
	return client.Ping(ctx)
}

// SubscribeAccount registers interest in an account. The returned channel
// receives an update whenever the polled account changes or disappears; the
// unsubscribe func closes it.
func (r *SolanaReader) SubscribeAccount(addr solana.PublicKey) (<-chan AccountUpdate, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSubID++
	id := r.nextSubID

	ch := make(chan AccountUpdate, 8)
	if r.subscriptions[addr] == nil {
		r.subscriptions[addr] = make(map[uint64]chan AccountUpdate)
	}
	r.subscriptions[addr][id] = ch

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if subs, ok := r.subscriptions[addr]; ok {
			if c, ok := subs[id]; ok {
				close(c)
				delete(subs, id)
			}
			if len(subs) == 0 {
				delete(r.subscriptions, addr)
				delete(r.lastSeen, addr)
			}
		}
	}
	return ch, unsubscribe
}

func (r *SolanaReader) watchLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("stopping account watch loop: context cancelled")
			return
		case <-r.stopCh:
			r.logger.Info().Msg("stopping account watch loop")
			return
		case <-ticker.C:
			r.pollWatchedAccounts(ctx)
		}
	}
}

func (r *SolanaReader) pollWatchedAccounts(ctx context.Context) {
	r.mu.RLock()
	addrs := make([]solana.PublicKey, 0, len(r.subscriptions))
	for addr := range r.subscriptions {
		addrs = append(addrs, addr)
	}
	r.mu.RUnlock()

	for _, addr := range addrs {
		fetchCtx, cancel := context.WithTimeout(ctx, r.pollInterval)
		snapshot, err := r.GetAccount(fetchCtx, addr)
		cancel()
		if err != nil {
			r.logger.Debug().
				Str("address", addr.String()).
				Err(err).
				Msg("watched account poll failed")
			continue
		}
		r.dispatchIfChanged(addr, snapshot)
	}
}

// dispatchIfChanged broadcasts an update when the account's observed state
// differs from the previous poll. Sends are non-blocking: a slow subscriber
// drops updates rather than stalling the watch loop.
func (r *SolanaReader) dispatchIfChanged(addr solana.PublicKey, snapshot *AccountSnapshot) {
	r.mu.Lock()
	previous := r.lastSeen[addr]
	if !accountChanged(previous, snapshot) {
		r.mu.Unlock()
		return
	}
	r.lastSeen[addr] = snapshot
	subs := make([]chan AccountUpdate, 0, len(r.subscriptions[addr]))
	for _, ch := range r.subscriptions[addr] {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	update := AccountUpdate{Address: addr, Snapshot: snapshot}
	for _, ch := range subs {
		select {
		case ch <- update:
		default:
			r.logger.Warn().
				Str("address", addr.String()).
				Msg("subscriber channel full, dropping account update")
		}
	}
}

func accountChanged(previous, current *AccountSnapshot) bool {
	if previous == nil && current == nil {
		return false
	}
	if (previous == nil) != (current == nil) {
		return true
	}
	return previous.Lamports != current.Lamports || !bytes.Equal(previous.Data, current.Data)
}
