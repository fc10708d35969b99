// Package registry владеет отображением «устройство → живое соединение».
// Это единственный источник истины о достижимости устройства и
// единственное место, где Live Route создаётся и уничтожается.
package registry

import (
	"net"
	"sync"

	"fleetwake/internal/events"
	"fleetwake/internal/logs"
)

type Registry struct {
	mu    sync.RWMutex
	conns map[uint]net.Conn
	pub   events.Publisher
}

func New(pub events.Publisher) *Registry {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Registry{
		conns: make(map[uint]net.Conn),
		pub:   pub,
	}
}

// Register устанавливает Live Route для устройства. Прежний хендл той же
// записи просто вытесняется (не закрывается: его соединение доживёт до
// своего deregister и окажется no-op). Инвариант: не более одного маршрута
// на устройство.
func (r *Registry) Register(deviceID uint, ip string, conn net.Conn) {
	r.mu.Lock()
	r.conns[deviceID] = conn
	r.mu.Unlock()

	logs.Logger.Infof("registry: device %d online (%s)", deviceID, ip)
	r.pub.Publish(events.Event{DeviceID: deviceID, Status: events.StatusOnline, IP: ip})
}

// Deregister снимает маршрут, которому принадлежит conn. Если хендл уже
// вытеснен новым handshake — это штатный no-op, а не ошибка.
func (r *Registry) Deregister(conn net.Conn) {
	var deviceID uint
	found := false

	r.mu.Lock()
	for id, c := range r.conns {
		if c == conn {
			delete(r.conns, id)
			deviceID = id
			found = true
			break
		}
	}
	r.mu.Unlock()

	if !found {
		return
	}
	logs.Logger.Infof("registry: device %d offline", deviceID)
	r.pub.Publish(events.Event{DeviceID: deviceID, Status: events.StatusOffline})
}

// LiveIDs — снимок идентификаторов достижимых устройств.
func (r *Registry) LiveIDs() []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// LiveSet — то же самое в виде множества (для partition при fan-out).
func (r *Registry) LiveSet() map[uint]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[uint]struct{}, len(r.conns))
	for id := range r.conns {
		set[id] = struct{}{}
	}
	return set
}

func (r *Registry) Lookup(deviceID uint) (net.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[deviceID]
	return c, ok
}

// CloseAll закрывает все живые соединения (останов сервера).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		_ = c.Close()
		delete(r.conns, id)
	}
}
