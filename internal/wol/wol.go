// Package wol отправляет Wake-on-LAN magic-пакеты.
package wol

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"fleetwake/internal/logs"
)

var ErrNoMAC = errors.New("wol: hardware address is required")

// Transmitter шлёт magic-пакеты на заданный UDP-порт. Если известен
// последний IP устройства — в /24-броадкаст его подсети, иначе в fallback.
type Transmitter struct {
	port     int
	fallback string
}

func NewTransmitter(port int, fallback string) *Transmitter {
	return &Transmitter{port: port, fallback: fallback}
}

// Wake строит и отправляет magic-пакет. Успех означает «локальный стек
// принял датаграмму», подтверждения доставки у протокола нет.
func (t *Transmitter) Wake(mac, lastIP string) error {
	if strings.TrimSpace(mac) == "" {
		return ErrNoMAC
	}
	pkt, err := BuildMagicPacket(mac)
	if err != nil {
		return err
	}

	target := BroadcastAddr(lastIP, t.fallback)
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(target, fmt.Sprintf("%d", t.port)))
	if err != nil {
		return fmt.Errorf("wol: resolve %s: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("wol: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(pkt); err != nil {
		return fmt.Errorf("wol: send to %s: %w", addr, err)
	}
	logs.Logger.Infof("wol: magic packet for %s sent to %s", mac, addr)
	return nil
}

// BuildMagicPacket: 6 байт 0xFF + 16 повторов 6-байтового MAC.
func BuildMagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("wol: bad hardware address %q: %w", mac, err)
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("wol: hardware address %q is not 6 bytes", mac)
	}

	pkt := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		pkt = append(pkt, 0xFF)
	}
	for i := 0; i < 16; i++ {
		pkt = append(pkt, hw...)
	}
	return pkt, nil
}

// BroadcastAddr — /24-броадкаст подсети lastIP (последний октет → 255).
// Кривой или пустой lastIP — возвращаем fallback.
func BroadcastAddr(lastIP, fallback string) string {
	ip := net.ParseIP(strings.TrimSpace(lastIP))
	if ip == nil {
		return fallback
	}
	v4 := ip.To4()
	if v4 == nil {
		return fallback
	}
	v4 = append(net.IP(nil), v4...)
	v4[3] = 255
	return v4.String()
}
