package events

// Статусы присутствия.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event — изменение присутствия устройства. IP заполняется только для online.
type Event struct {
	DeviceID uint   `json:"device_id"`
	Status   string `json:"status"`
	IP       string `json:"ip,omitempty"`
}

// Publisher — приёмник событий присутствия (UI-коллаборатор).
// Publish не должен блокировать: реестр зовёт его с горутин соединений.
type Publisher interface {
	Publish(ev Event)
}

// Nop — заглушка для тестов и работы без UI.
type Nop struct{}

func (Nop) Publish(Event) {}
