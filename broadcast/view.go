package broadcast

import "sync"

type viewEntry struct {
	url     string
	version int64
}

// View is a local cache of the current document url per room. Set ignores
// versions older than what is already cached.
type View struct {
	mu    sync.RWMutex
	rooms map[string]viewEntry
}

func NewView() *View {
	return &View{rooms: make(map[string]viewEntry)}
}

func (v *View) Set(roomID, url string, version int64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cur, ok := v.rooms[roomID]; ok && version > 0 && cur.version > version {
		return
	}
	v.rooms[roomID] = viewEntry{url: url, version: version}
}

// Get returns the cached url and whether the room has one.
func (v *View) Get(roomID string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok := v.rooms[roomID]
	return e.url, ok
}
