package tabs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	topicHeartbeat = "tabs/heartbeat"
	topicGoodbye   = "tabs/goodbye"
)

// Role is the coordinator's view of this tab's position in the session.
// Recomputed on every heartbeat exchange; leadership can change at runtime.
type Role struct {
	IsLeader         bool `json:"is_leader"`
	TabCount         int  `json:"tab_count"`
	ConnectionShared bool `json:"connection_shared"`
}

// heartbeatPayload is the body of a heartbeat frame. Seq increases
// monotonically per tab so reordered frames can be discarded.
type heartbeatPayload struct {
	RegisteredAtNano int64  `json:"registered_at_nano"`
	Seq              uint64 `json:"seq"`
}

type peerState struct {
	registeredAtNano int64
	seq              uint64
	lastSeen         time.Time
}

// Config tunes the heartbeat protocol.
type Config struct {
	HeartbeatInterval time.Duration // heartbeat cadence
	LeaderTimeout     time.Duration // silence before a peer is considered gone
}

// Coordinator elects one tab as leader over a shared Channel. Leadership
// goes to the earliest-registered live tab, ties broken by lowest tab ID, so
// every tab computes the same winner from the same heartbeat view. A brief
// dual-leader overlap during re-election is tolerated, bounded by the
// heartbeat interval.
type Coordinator struct {
	id               string
	registeredAtNano int64
	channel          Channel
	cfg              Config
	logger           zerolog.Logger

	mu       sync.RWMutex
	peers    map[string]*peerState
	seq      uint64
	isLeader bool
	started  bool

	onLeadership func(isLeader bool)
	onBroadcast  func(msgType string, payload json.RawMessage)

	unsubscribe func()
	stopCh      chan struct{}
	wg          sync.WaitGroup
	once        sync.Once
}

// NewCoordinator creates a coordinator for one tab. It does nothing until
// Start is called.
func NewCoordinator(channel Channel, cfg Config, logger zerolog.Logger) *Coordinator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.LeaderTimeout <= cfg.HeartbeatInterval {
		cfg.LeaderTimeout = 3 * cfg.HeartbeatInterval
	}

	id := uuid.New().String()
	return &Coordinator{
		id:               id,
		registeredAtNano: time.Now().UnixNano(),
		channel:          channel,
		cfg:              cfg,
		peers:            make(map[string]*peerState),
		logger:           logger.With().Str("component", "tab_coordinator").Str("tab_id", id).Logger(),
		stopCh:           make(chan struct{}),
	}
}

// ID returns this tab's identity.
func (c *Coordinator) ID() string {
	return c.id
}

// SetLeadershipHandler registers the callback fired whenever this tab gains
// or loses leadership. The composition root uses it to start and stop sync
// polling. Must be set before Start.
func (c *Coordinator) SetLeadershipHandler(fn func(isLeader bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLeadership = fn
}

// SetBroadcastHandler registers the callback for application messages from
// other tabs. Must be set before Start.
func (c *Coordinator) SetBroadcastHandler(fn func(msgType string, payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBroadcast = fn
}

// Start joins the session: subscribes to the channel, announces heartbeats,
// and begins leadership evaluation. Idempotent.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	// Announce ourselves, but hold off on claiming leadership until the
	// first tick so existing tabs get a chance to be heard.
	c.unsubscribe = c.channel.Subscribe(c.handleMessage)
	c.publishHeartbeat()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.publishHeartbeat()
				c.evaluateLeadership()
			}
		}
	}()

	c.logger.Info().Msg("tab joined session")
}

// Stop leaves the session and announces departure so the remaining tabs
// re-elect without waiting for heartbeat silence.
func (c *Coordinator) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	_ = c.channel.Publish(Message{
		Topic:      topicGoodbye,
		SenderID:   c.id,
		SentAtNano: time.Now().UnixNano(),
	})

	c.mu.Lock()
	wasLeader := c.isLeader
	c.isLeader = false
	handler := c.onLeadership
	c.mu.Unlock()

	if wasLeader && handler != nil {
		handler(false)
	}
	c.logger.Info().Msg("tab left session")
}

// Role reports this tab's current role.
func (c *Coordinator) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 1 + c.livePeerCountLocked(time.Now())
	return Role{
		IsLeader:         c.isLeader,
		TabCount:         count,
		ConnectionShared: count > 1,
	}
}

// IsLeaderTab reports whether this tab currently owns the live connection.
func (c *Coordinator) IsLeaderTab() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isLeader
}

// BroadcastMessage sends an application message to every other tab.
func (c *Coordinator) BroadcastMessage(msgType string, payload json.RawMessage) error {
	return c.channel.Publish(Message{
		Topic:      msgType,
		SenderID:   c.id,
		SentAtNano: time.Now().UnixNano(),
		Payload:    payload,
	})
}

func (c *Coordinator) handleMessage(msg Message) {
	if msg.SenderID == c.id {
		return
	}

	switch msg.Topic {
	case topicHeartbeat:
		var hb heartbeatPayload
		if err := json.Unmarshal(msg.Payload, &hb); err != nil {
			c.logger.Debug().Err(err).Msg("dropping malformed heartbeat")
			return
		}
		c.recordHeartbeat(msg.SenderID, hb)
		c.evaluateLeadership()

	case topicGoodbye:
		c.mu.Lock()
		delete(c.peers, msg.SenderID)
		c.mu.Unlock()
		c.evaluateLeadership()

	default:
		c.mu.RLock()
		handler := c.onBroadcast
		c.mu.RUnlock()
		if handler != nil {
			handler(msg.Topic, msg.Payload)
		}
	}
}

// recordHeartbeat updates the peer table, discarding frames whose sequence
// number is not newer than what we already saw.
func (c *Coordinator) recordHeartbeat(senderID string, hb heartbeatPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	peer, ok := c.peers[senderID]
	if ok && hb.Seq <= peer.seq {
		return
	}
	if !ok {
		peer = &peerState{}
		c.peers[senderID] = peer
	}
	peer.registeredAtNano = hb.RegisteredAtNano
	peer.seq = hb.Seq
	peer.lastSeen = time.Now()
}

func (c *Coordinator) publishHeartbeat() {
	c.mu.Lock()
	c.seq++
	hb := heartbeatPayload{
		RegisteredAtNano: c.registeredAtNano,
		Seq:              c.seq,
	}
	c.mu.Unlock()

	payload, _ := json.Marshal(hb)
	if err := c.channel.Publish(Message{
		Topic:      topicHeartbeat,
		SenderID:   c.id,
		SentAtNano: time.Now().UnixNano(),
		Payload:    payload,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish heartbeat")
	}
}

// evaluateLeadership prunes silent peers and recomputes the leader: the
// earliest-registered live tab, ties broken by lowest ID.
func (c *Coordinator) evaluateLeadership() {
	now := time.Now()

	c.mu.Lock()
	for id, peer := range c.peers {
		if now.Sub(peer.lastSeen) > c.cfg.LeaderTimeout {
			delete(c.peers, id)
		}
	}

	leaderID := c.id
	leaderRegistered := c.registeredAtNano
	for id, peer := range c.peers {
		if peer.registeredAtNano < leaderRegistered ||
			(peer.registeredAtNano == leaderRegistered && id < leaderID) {
			leaderID = id
			leaderRegistered = peer.registeredAtNano
		}
	}

	nowLeader := leaderID == c.id
	changed := nowLeader != c.isLeader
	c.isLeader = nowLeader
	handler := c.onLeadership
	c.mu.Unlock()

	if changed {
		if nowLeader {
			c.logger.Info().Msg("tab elected leader")
		} else {
			c.logger.Info().Str("leader_id", leaderID).Msg("tab demoted to follower")
		}
		if handler != nil {
			handler(nowLeader)
		}
	}
}

func (c *Coordinator) livePeerCountLocked(now time.Time) int {
	count := 0
	for _, peer := range c.peers {
		if now.Sub(peer.lastSeen) <= c.cfg.LeaderTimeout {
			count++
		}
	}
	return count
}
