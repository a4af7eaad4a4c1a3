package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"houseparty-server/metrics"
	"houseparty-server/models"
	"houseparty-server/utils/logger"
)

const presenceTimeout = 5 * time.Second

// Conn is one live client connection bound to a single user.
type Conn interface {
	ID() string
	UserID() string
	// Send queues ev without blocking. False means the queue is full.
	Send(ev Event) bool
	Close() error
}

// PresenceRecorder persists the in-house flag. UserStore satisfies it.
type PresenceRecorder interface {
	SetPresence(ctx context.Context, userID string, inHouse bool, at time.Time) error
}

// Coordinator tracks live connections, the house room and one room per
// party. All membership changes and the broadcasts they cause happen under
// one mutex, so members see a room's events in the order the changes were made.
type Coordinator struct {
	mu      sync.Mutex
	conns   map[string]Conn
	byUser  map[string]map[string]Conn
	house   map[string]Conn
	parties map[string]map[string]Conn

	presence PresenceRecorder
	now      func() time.Time
}

func NewCoordinator(presence PresenceRecorder) *Coordinator {
	return &Coordinator{
		conns:    make(map[string]Conn),
		byUser:   make(map[string]map[string]Conn),
		house:    make(map[string]Conn),
		parties:  make(map[string]map[string]Conn),
		presence: presence,
		now:      time.Now,
	}
}

// Register binds a new connection. It is not in the house until Enter.
func (c *Coordinator) Register(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.ID()] = conn
	if c.byUser[conn.UserID()] == nil {
		c.byUser[conn.UserID()] = make(map[string]Conn)
	}
	c.byUser[conn.UserID()][conn.ID()] = conn
	metrics.SetRealtimeConnections(len(c.conns))
}

// Enter puts the connection in the house. Other members hear user_entered
// when the user's first connection enters.
func (c *Coordinator) Enter(connID string) {
	c.mu.Lock()
	conn, ok := c.conns[connID]
	if !ok || c.house[connID] != nil {
		c.mu.Unlock()
		return
	}
	userID := conn.UserID()
	first := !c.userInHouse(userID)
	c.house[connID] = conn
	var slow []Conn
	if first {
		slow = c.broadcast(c.house, Event{Event: EventUserEntered, Data: userPayload{UserID: userID}}, connID)
	}
	metrics.SetHouseConnections(len(c.house))
	c.mu.Unlock()

	if first {
		c.recordPresence(userID, true)
	}
	c.evict(slow)
}

// Leave takes the connection out of the house. user_left goes out once the
// user has no connection left in it.
func (c *Coordinator) Leave(connID string) {
	c.mu.Lock()
	userID, last, slow := c.leaveLocked(connID)
	c.mu.Unlock()

	if last {
		c.recordPresence(userID, false)
	}
	c.evict(slow)
}

func (c *Coordinator) leaveLocked(connID string) (userID string, last bool, slow []Conn) {
	conn, ok := c.house[connID]
	if !ok {
		return "", false, nil
	}
	delete(c.house, connID)
	metrics.SetHouseConnections(len(c.house))
	userID = conn.UserID()
	if c.userInHouse(userID) {
		return userID, false, nil
	}
	return userID, true, c.broadcast(c.house, Event{Event: EventUserLeft, Data: userPayload{UserID: userID}}, "")
}

// Disconnect drops every trace of the connection. A connection still in the
// house leaves it with the identity bound at connect time. Safe to repeat.
func (c *Coordinator) Disconnect(connID string) {
	c.mu.Lock()
	conn, ok := c.conns[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	userID, last, slow := c.leaveLocked(connID)

	delete(c.conns, connID)
	if set := c.byUser[conn.UserID()]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(c.byUser, conn.UserID())
		}
	}
	for partyID, room := range c.parties {
		delete(room, connID)
		if len(room) == 0 {
			delete(c.parties, partyID)
		}
	}
	metrics.SetRealtimeConnections(len(c.conns))
	c.mu.Unlock()

	if last {
		c.recordPresence(userID, false)
	}
	c.evict(slow)
}

// HouseMembers returns each user in the house once, sorted.
func (c *Coordinator) HouseMembers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool, len(c.house))
	out := make([]string, 0, len(c.house))
	for _, conn := range c.house {
		if !seen[conn.UserID()] {
			seen[conn.UserID()] = true
			out = append(out, conn.UserID())
		}
	}
	sort.Strings(out)
	return out
}

// PartyMembers lists the users with a connection in the party room.
func (c *Coordinator) PartyMembers(partyID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, conn := range c.parties[partyID] {
		if !seen[conn.UserID()] {
			seen[conn.UserID()] = true
			out = append(out, conn.UserID())
		}
	}
	sort.Strings(out)
	return out
}

// CloseAll closes every connection. Used on shutdown.
func (c *Coordinator) CloseAll() {
	c.mu.Lock()
	conns := make([]Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (c *Coordinator) PartyCreated(p *models.Party) {
	c.mu.Lock()
	c.joinRoom(p.ID, p.HostID)
	slow := c.broadcast(c.house, Event{Event: EventPartyCreated, Data: partyPayload{PartyID: p.ID, UserID: p.HostID, Party: p}}, "")
	c.mu.Unlock()
	c.evict(slow)
}

// PartyJoined moves the user's live connections into the party room and
// tells the room.
func (c *Coordinator) PartyJoined(p *models.Party, userID string) {
	c.mu.Lock()
	c.joinRoom(p.ID, userID)
	slow := c.broadcast(c.parties[p.ID], Event{Event: EventPartyJoined, Data: partyPayload{PartyID: p.ID, UserID: userID, Party: p}}, "")
	c.mu.Unlock()
	c.evict(slow)
}

func (c *Coordinator) PartyLeft(p *models.Party, userID string) {
	c.mu.Lock()
	slow := c.broadcast(c.parties[p.ID], Event{Event: EventPartyLeft, Data: partyPayload{PartyID: p.ID, UserID: userID, Party: p}}, "")
	if room := c.parties[p.ID]; room != nil {
		for id := range c.byUser[userID] {
			delete(room, id)
		}
		if len(room) == 0 {
			delete(c.parties, p.ID)
		}
	}
	c.mu.Unlock()
	c.evict(slow)
}

func (c *Coordinator) PartyEnded(p *models.Party) {
	c.mu.Lock()
	delete(c.parties, p.ID)
	slow := c.broadcast(c.house, Event{Event: EventPartyEnded, Data: partyPayload{PartyID: p.ID, Party: p}}, "")
	c.mu.Unlock()
	c.evict(slow)
}

func (c *Coordinator) InvitationReceived(userID string, inv *models.Invitation) {
	c.mu.Lock()
	slow := c.broadcast(c.byUser[userID], Event{Event: EventInvitationReceived, Data: inv}, "")
	c.mu.Unlock()
	c.evict(slow)
}

// Reply sends ev to a single connection outside of any room.
func (c *Coordinator) Reply(connID string, ev Event) {
	c.mu.Lock()
	conn, ok := c.conns[connID]
	var slow []Conn
	if ok && !conn.Send(ev) {
		slow = []Conn{conn}
	}
	c.mu.Unlock()
	c.evict(slow)
}

func (c *Coordinator) joinRoom(partyID, userID string) {
	conns := c.byUser[userID]
	if len(conns) == 0 {
		return
	}
	room := c.parties[partyID]
	if room == nil {
		room = make(map[string]Conn)
		c.parties[partyID] = room
	}
	for id, conn := range conns {
		room[id] = conn
	}
}

func (c *Coordinator) userInHouse(userID string) bool {
	for id := range c.byUser[userID] {
		if c.house[id] != nil {
			return true
		}
	}
	return false
}

// broadcast must be called with mu held. It returns the connections whose
// queue was full.
func (c *Coordinator) broadcast(room map[string]Conn, ev Event, skip string) []Conn {
	var slow []Conn
	for id, conn := range room {
		if id == skip {
			continue
		}
		if !conn.Send(ev) {
			slow = append(slow, conn)
		}
	}
	return slow
}

// evict disconnects consumers that fell behind.
func (c *Coordinator) evict(slow []Conn) {
	for _, conn := range slow {
		logger.Base().WithField("conn_id", conn.ID()).WithField("user_id", conn.UserID()).Warn("realtime send queue full, dropping connection")
		c.Disconnect(conn.ID())
		_ = conn.Close()
	}
}

func (c *Coordinator) recordPresence(userID string, inHouse bool) {
	if c.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := c.presence.SetPresence(ctx, userID, inHouse, c.now()); err != nil {
		logger.Base().WithError(err).WithField("user_id", userID).Warn("failed to record presence")
	}
}
