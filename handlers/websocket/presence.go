package websocket

import (
	"regexp"
	"strings"
	"sync"
)

// Presence counts open feed connections per room. It knows nothing about who
// is connected.
type Presence struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{rooms: make(map[string]map[string]struct{})}
}

// Join registers connID in roomID and returns the new count. Joining twice is
// a no-op.
func (p *Presence) Join(roomID, connID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.rooms[roomID]
	if !ok {
		conns = make(map[string]struct{})
		p.rooms[roomID] = conns
	}
	conns[connID] = struct{}{}
	return len(conns)
}

func (p *Presence) Leave(roomID, connID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.rooms[roomID]
	if !ok {
		return 0
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(p.rooms, roomID)
		return 0
	}
	return len(conns)
}

func (p *Presence) Count(roomID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms[roomID])
}

// OriginPatterns turns origins such as "http://localhost:*" into anchored
// regular expressions. A lone "*" allows everything.
func OriginPatterns(origins []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		quoted := strings.ReplaceAll(regexp.QuoteMeta(origin), `\*`, `.*`)
		patterns = append(patterns, regexp.MustCompile("^"+quoted+"$"))
	}
	return patterns
}

func OriginAllowed(patterns []*regexp.Regexp, origin string) bool {
	// Non-browser clients send no Origin.
	if origin == "" {
		return true
	}
	for _, p := range patterns {
		if p.MatchString(origin) {
			return true
		}
	}
	return false
}
