// Presence tracking. A user is online while they have at least one
// open connection; only the transitions between zero and one
// connection are observable events.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// lastSeenFlushInterval caps how often heartbeats write last-seen
// activity through to storage, per user.
const lastSeenFlushInterval = 30 * time.Second

// Registry counts live connections per user. It is purely in-memory
// and makes no I/O; the Manager layers persistence and broadcasting
// on top of the transitions it reports.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]map[string]struct{}
	lastSeen    map[string]time.Time
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]map[string]struct{}),
		lastSeen:    make(map[string]time.Time),
	}
}

// Connect records a connection for a user. Returns true only when this
// is the user's first connection, i.e. they just came online.
func (r *Registry) Connect(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.connections[userID]
	if conns == nil {
		conns = make(map[string]struct{})
		r.connections[userID] = conns
	}
	wasOffline := len(conns) == 0
	conns[connID] = struct{}{}
	r.lastSeen[userID] = time.Now()
	return wasOffline
}

// Disconnect removes a connection for a user. Returns true only when
// this was the user's last connection, i.e. they just went offline.
// Unknown connection IDs are ignored.
func (r *Registry) Disconnect(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.connections[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	r.lastSeen[userID] = time.Now()
	if len(conns) == 0 {
		delete(r.connections, userID)
		return true
	}
	return false
}

// IsOnline reports whether a user has any live connections
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[userID]) > 0
}

// ConnectionCount returns the number of live connections for a user
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[userID])
}

// OnlineUsers returns all user IDs with at least one connection
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.connections))
	for userID := range r.connections {
		users = append(users, userID)
	}
	return users
}

// Touch refreshes a user's last-seen time, e.g. on heartbeat
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[userID] = time.Now()
}

// LastSeen returns a user's last activity time
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastSeen[userID]
	return t, ok
}

// Manager wires the registry to the hub and database: online and
// offline transitions are persisted and announced to every community
// the user belongs to.
type Manager struct {
	hub      *Hub
	registry *Registry
	db       *gorm.DB

	// memberCommunities resolves the community IDs whose rooms should
	// hear this user's presence changes.
	memberCommunities func(userID string) ([]string, error)

	// persistLastSeen mirrors heartbeat activity onto storage. Failures
	// are logged and otherwise ignored.
	persistLastSeen func(userID string, at time.Time) error

	flushMu   sync.Mutex
	lastFlush map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a presence manager backed by the given database.
// The db may be nil in tests; persistence is then skipped.
func NewManager(hub *Hub, db *gorm.DB) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		hub:       hub,
		registry:  NewRegistry(),
		db:        db,
		lastFlush: make(map[string]time.Time),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.memberCommunities = m.communitiesFromDB
	m.persistLastSeen = m.lastSeenToDB
	return m
}

// SetMemberCommunities overrides community resolution, used in tests
func (m *Manager) SetMemberCommunities(fn func(userID string) ([]string, error)) {
	m.memberCommunities = fn
}

// SetLastSeenPersist overrides last-seen persistence, used in tests
func (m *Manager) SetLastSeenPersist(fn func(userID string, at time.Time) error) {
	m.persistLastSeen = fn
}

// Registry exposes the underlying connection registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start registers the presence-related message handlers
func (m *Manager) Start() {
	m.hub.RegisterHandler(MessageTypeHeartbeat, func(client *Client, msg *Message) error {
		m.registry.Touch(client.UserID)
		m.flushLastSeen(client.UserID)
		return nil
	})

	m.hub.RegisterHandler(MessageTypeUpdatePresence, func(client *Client, msg *Message) error {
		var payload UpdatePresencePayload
		if err := msg.ParsePayload(&payload); err != nil {
			client.SendError("invalid_payload", "Failed to parse presence update")
			return nil
		}

		status := StatusOffline
		if m.registry.IsOnline(client.UserID) {
			status = StatusOnline
			// Away is the only client-chosen status; online and offline
			// always follow the connection state.
			if payload.Status == StatusAway {
				status = StatusAway
			}
		}
		m.broadcastStatus(client.UserID, status, payload.CustomStatus)
		return nil
	})

	logger.Log.Info("Presence manager started")
}

// flushLastSeen writes heartbeat activity through to storage, at most
// once per user per flush interval.
func (m *Manager) flushLastSeen(userID string) {
	now := time.Now()

	m.flushMu.Lock()
	if last, ok := m.lastFlush[userID]; ok && now.Sub(last) < lastSeenFlushInterval {
		m.flushMu.Unlock()
		return
	}
	m.lastFlush[userID] = now
	m.flushMu.Unlock()

	if err := m.persistLastSeen(userID, now); err != nil {
		logger.Log.Warn("Failed to persist last seen",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// lastSeenToDB is the default persist func; a nil db skips the write
func (m *Manager) lastSeenToDB(userID string, at time.Time) error {
	if m.db == nil {
		return nil
	}
	return m.db.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("last_seen_at", at).Error
}

// Stop shuts down the presence manager
func (m *Manager) Stop() {
	m.cancel()
}

// OnClientConnect is called when a client finishes the handshake
func (m *Manager) OnClientConnect(client *Client) {
	if m.registry.Connect(client.UserID, client.ConnID) {
		go m.persistPresence(client.UserID, true)
		m.broadcastPresence(client.UserID, StatusOnline)
	}
}

// OnClientDisconnect is called after a client's read pump exits
func (m *Manager) OnClientDisconnect(client *Client) {
	if m.registry.Disconnect(client.UserID, client.ConnID) {
		m.flushMu.Lock()
		delete(m.lastFlush, client.UserID)
		m.flushMu.Unlock()

		go m.persistPresence(client.UserID, false)
		m.broadcastPresence(client.UserID, StatusOffline)
	}
}

// IsOnline reports whether a user currently has any connection
func (m *Manager) IsOnline(userID string) bool {
	return m.registry.IsOnline(userID)
}

// broadcastPresence announces a status change to the rooms of every
// community the user belongs to.
func (m *Manager) broadcastPresence(userID, status string) {
	m.broadcastStatus(userID, status, "")
}

func (m *Manager) broadcastStatus(userID, status, customStatus string) {
	communityIDs, err := m.memberCommunities(userID)
	if err != nil {
		logger.Log.Error("Failed to resolve communities for presence broadcast",
			zap.String("user_id", userID), zap.Error(err))
		return
	}

	now := time.Now()
	payload := PresencePayload{
		UserID:       userID,
		Status:       status,
		CustomStatus: customStatus,
		Timestamp:    now.UnixMilli(),
	}
	if status == StatusOffline {
		if last, ok := m.registry.LastSeen(userID); ok {
			payload.LastSeenAt = last.UnixMilli()
		}
	}

	msg := NewMessage(MessageTypePresenceUpdate, payload)
	for _, communityID := range communityIDs {
		m.hub.BroadcastRoom(CommunityRoom(communityID), msg)
	}
}

// persistPresence mirrors the registry state onto the user row
func (m *Manager) persistPresence(userID string, isOnline bool) {
	if m.db == nil {
		return
	}

	updates := map[string]interface{}{
		"is_online":    isOnline,
		"last_seen_at": time.Now(),
	}
	if err := m.db.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
		logger.Log.Error("Failed to persist presence",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// communitiesFromDB lists the communities a user is an active member of
func (m *Manager) communitiesFromDB(userID string) ([]string, error) {
	if m.db == nil {
		return nil, nil
	}

	var ids []string
	err := m.db.Model(&models.CommunityMember{}).
		Where("user_id = ? AND role <> ?", userID, models.MemberPending).
		Pluck("community_id", &ids).Error
	return ids, err
}
