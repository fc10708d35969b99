// Package dispatch доставляет команды питания живым соединениям.
package dispatch

import (
	"context"
	"fmt"

	"fleetwake/internal/logs"
	"fleetwake/internal/models"
	"fleetwake/internal/registry"
)

// Глаголы командного канала (server → device).
const (
	VerbShutdown = "SHUTDOWN"
	VerbReboot   = "REBOOT"
)

// Виды bulk-действий и целей.
const (
	ActionShutdown = models.TaskKindShutdown
	ActionReboot   = models.TaskKindReboot
	ActionWake     = models.TaskKindWake

	TargetAll   = "all"
	TargetGroup = models.TargetKindGroup
)

// DeviceSource — выборка целей fan-out из постоянного стора.
type DeviceSource interface {
	GetAll(ctx context.Context) ([]models.Device, error)
	GetByGroup(ctx context.Context, groupID uint) ([]models.Device, error)
}

// Waker — передатчик wake-сигнала (устройство без живого маршрута
// по определению достижимо только броадкастом).
type Waker interface {
	Wake(mac, lastIP string) error
}

// BulkResult — сводка fan-out: partition целей по текущей достижимости.
type BulkResult struct {
	Attempted   int `json:"attempted"`
	Reachable   int `json:"reachable"`
	Unreachable int `json:"unreachable"`
}

type Dispatcher struct {
	reg     *registry.Registry
	devices DeviceSource
	waker   Waker
}

func New(reg *registry.Registry, devices DeviceSource, waker Waker) *Dispatcher {
	return &Dispatcher{reg: reg, devices: devices, waker: waker}
}

// Send пишет команду в живое соединение устройства. Fire-and-forget:
// подтверждения не ждём, одна запись = одна команда. Нет маршрута или
// запись не удалась — false, без побочных эффектов.
func (d *Dispatcher) Send(deviceID uint, verb string, delaySeconds int) bool {
	conn, ok := d.reg.Lookup(deviceID)
	if !ok {
		logs.Logger.Debugf("dispatch: device %d unreachable, %s skipped", deviceID, verb)
		return false
	}
	if _, err := fmt.Fprintf(conn, "%s %d", verb, delaySeconds); err != nil {
		logs.Logger.Warnf("dispatch: write to device %d failed: %v", deviceID, err)
		return false
	}
	logs.Logger.Infof("dispatch: %s %d sent to device %d", verb, delaySeconds, deviceID)
	return true
}

// Bulk — фан-аут действия на все устройства или на группу.
// shutdown/reboot уходят только достижимым; wake пробуем для каждой цели
// с MAC-адресом независимо от достижимости (его смысл — достать именно
// недостижимых). Цель без MAC — пропуск этой цели, не провал пачки.
func (d *Dispatcher) Bulk(ctx context.Context, action, targetKind string, targetID uint, delaySeconds int) (BulkResult, error) {
	switch action {
	case ActionShutdown, ActionReboot, ActionWake:
	default:
		return BulkResult{}, fmt.Errorf("dispatch: unsupported action %q", action)
	}

	var (
		targets []models.Device
		err     error
	)
	switch targetKind {
	case TargetAll:
		targets, err = d.devices.GetAll(ctx)
	case TargetGroup:
		targets, err = d.devices.GetByGroup(ctx, targetID)
	default:
		return BulkResult{}, fmt.Errorf("dispatch: unsupported target kind %q", targetKind)
	}
	if err != nil {
		return BulkResult{}, err
	}

	live := d.reg.LiveSet()
	res := BulkResult{Attempted: len(targets)}

	for _, dev := range targets {
		_, reachable := live[dev.ID]
		if reachable {
			res.Reachable++
		} else {
			res.Unreachable++
		}

		switch action {
		case ActionShutdown:
			if reachable {
				d.Send(dev.ID, VerbShutdown, delaySeconds)
			}
		case ActionReboot:
			if reachable {
				d.Send(dev.ID, VerbReboot, delaySeconds)
			}
		case ActionWake:
			if dev.MAC == "" {
				continue
			}
			if err := d.waker.Wake(dev.MAC, dev.IP); err != nil {
				logs.Logger.Warnf("dispatch: wake %s failed: %v", dev.MAC, err)
			}
		}
	}
	return res, nil
}
