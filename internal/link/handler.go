// Package link принимает входящие TCP-соединения агентов: handshake,
// heartbeat, регистрация живого маршрута в реестре.
package link

import (
	"bufio"
	"context"
	"net"
	"strings"

	"fleetwake/internal/logs"
	"fleetwake/internal/models"
	"fleetwake/internal/registry"
)

// HeartbeatTag — литерал keep-alive кадра. Агент может склеить его с
// handshake в одной доставке, поэтому тег вычищается из поля MAC до парсинга.
const HeartbeatTag = "HEARTBEAT"

// Кадры — строки, разделённые \n. Лимит — защита от мусорного потока.
const maxFrameSize = 64 * 1024

// Resolver отображает handshake на постоянную запись устройства.
type Resolver interface {
	Resolve(ctx context.Context, hostname, mac, ip string) (*models.Device, error)
}

type Handler struct {
	resolver Resolver
	reg      *registry.Registry
}

func NewHandler(resolver Resolver, reg *registry.Registry) *Handler {
	return &Handler{resolver: resolver, reg: reg}
}

// Serve обслуживает одно соединение до его закрытия. Весь парсинг — на
// локальном буфере этого соединения: границы TCP-чанков не являются
// границами сообщений, кадр выделяется только по разделителю.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		h.reg.Deregister(conn)
		_ = conn.Close()
		logs.Logger.Debugf("link: connection %s closed", remote)
	}()

	ip := remoteIP(conn)

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxFrameSize)
	for sc.Scan() {
		frame := strings.TrimSpace(sc.Text())
		if frame == "" {
			continue
		}
		h.handleFrame(ctx, conn, ip, frame)
	}
	if err := sc.Err(); err != nil {
		// транспортная ошибка: deregister в defer, реестр не страдает
		logs.Logger.Debugf("link: read from %s: %v", remote, err)
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn net.Conn, ip, frame string) {
	if !strings.Contains(frame, "|") {
		if strings.Contains(frame, HeartbeatTag) {
			// одиночный heartbeat держит транспорт живым и ничего не меняет
			return
		}
		logs.Logger.Warnf("link: malformed frame from %s: %q", ip, frame)
		return
	}

	parts := strings.SplitN(frame, "|", 2)
	hostname := strings.TrimSpace(parts[0])
	mac := strings.TrimSpace(parts[1])

	// склеенный с handshake heartbeat — вычищаем тег из поля MAC
	if strings.Contains(mac, HeartbeatTag) {
		mac = strings.TrimSpace(strings.ReplaceAll(mac, HeartbeatTag, ""))
	}

	if hostname == "" || mac == "" {
		logs.Logger.Warnf("link: malformed handshake from %s: %q", ip, frame)
		return
	}

	dev, err := h.resolver.Resolve(ctx, hostname, mac, ip)
	if err != nil {
		// без разрешённой идентичности маршрут не регистрируем
		logs.Logger.Errorf("link: resolve %s (%s) failed: %v", hostname, mac, err)
		return
	}

	h.reg.Register(dev.ID, ip, conn)
	logs.Logger.Infof("link: device %q (%s) authenticated, id=%d", dev.Hostname, dev.MAC, dev.ID)
}

// remoteIP — адрес пира без порта и без IPv4-in-IPv6 префикса.
func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	return strings.TrimPrefix(host, "::ffff:")
}
