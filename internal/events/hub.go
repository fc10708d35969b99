package events

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fleetwake/internal/logs"
)

const (
	writeWait     = 10 * time.Second
	clientBufSize = 32
	broadcastSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// UI живёт на другом origin (отдельное окно) — проверку не навязываем,
	// аутентификация канала вне зоны ответственности движка.
	CheckOrigin: func(*http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub раздаёт события присутствия подключённым websocket-клиентам.
// Всё владение множеством клиентов — в одной горутине (run), снаружи
// только каналы: register/unregister/broadcast.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastSize),
		done:       make(chan struct{}),
	}
}

// Publish реализует Publisher. Неблокирующая отправка: если очередь
// рассылки забита, событие теряется — UI переживёт пропуск, реестр ждать
// не должен.
func (h *Hub) Publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
		logs.Logger.Debug("presence hub: broadcast queue full, event dropped")
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// медленный клиент — отключаем, не копим
					delete(h.clients, c)
					close(c.send)
				}
			}
		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

func (h *Hub) Stop() { close(h.done) }

// ServeWS апгрейдит HTTP-запрос и подписывает клиента на события.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Logger.Warnf("presence hub: upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBufSize)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	// читатель: нам от клиента ничего не нужно, но читать обязаны,
	// чтобы замечать закрытие
	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		for msg := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
	}()
}
