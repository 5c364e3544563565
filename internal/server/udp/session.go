package udp

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/librepad/librepad/device"
)

const firstSessionID uint32 = 1000

// Session is the server-side record of one client handshake.
type Session struct {
	ID         uint32
	Addr       *net.UDPAddr
	ClientName string
	Caps       uint8
	Created    time.Time
	LastSeen   time.Time

	device     device.Device
	deviceType string
}

// SessionInfo is a read-only view of a Session.
type SessionInfo struct {
	ID         uint32    `json:"id"`
	Addr       string    `json:"addr"`
	ClientName string    `json:"client"`
	Caps       uint8     `json:"caps"`
	DeviceType string    `json:"device_type,omitempty"`
	Created    time.Time `json:"created"`
	LastSeen   time.Time `json:"last_seen"`
}

// sessionTable is written only by the dispatch loop. The lock exists so
// snapshots can be taken from other goroutines.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
	byAddr   map[string]uint32
	nextID   uint32
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		sessions: make(map[uint32]*Session),
		byAddr:   make(map[string]uint32),
		nextID:   firstSessionID,
	}
}

// create registers a new session for addr. A later HELLO from the same
// address takes over the address mapping; the older session stays valid.
func (t *sessionTable) create(addr *net.UDPAddr, caps uint8, name string, now time.Time) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Session{
		ID:         t.nextID,
		Addr:       addr,
		ClientName: name,
		Caps:       caps,
		Created:    now,
		LastSeen:   now,
	}
	t.nextID++
	t.sessions[s.ID] = s
	t.byAddr[addr.String()] = s.ID
	return s
}

func (t *sessionTable) get(id uint32) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// touch refreshes LastSeen of the session mapped to addr.
func (t *sessionTable) touch(addr *net.UDPAddr, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byAddr[addr.String()]; ok {
		if s := t.sessions[id]; s != nil {
			s.LastSeen = now
		}
	}
}

func (t *sessionTable) bind(s *Session, typ string, dev device.Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.device, s.deviceType = dev, typ
}

// unbind clears the device reference and returns the type that was bound.
func (t *sessionTable) unbind(s *Session) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	typ := s.deviceType
	s.device, s.deviceType = nil, ""
	return typ
}

func (t *sessionTable) remove(id uint32) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil
	}
	delete(t.sessions, id)
	key := s.Addr.String()
	if t.byAddr[key] == id {
		delete(t.byAddr, key)
	}
	return s
}

// drain empties the table and returns what it held.
func (t *sessionTable) drain() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	t.sessions = make(map[uint32]*Session)
	t.byAddr = make(map[string]uint32)
	return out
}

func (t *sessionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *sessionTable) snapshot() []SessionInfo {
	t.mu.RLock()
	out := make([]SessionInfo, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, SessionInfo{
			ID:         s.ID,
			Addr:       s.Addr.String(),
			ClientName: s.ClientName,
			Caps:       s.Caps,
			DeviceType: s.deviceType,
			Created:    s.Created,
			LastSeen:   s.LastSeen,
		})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
