// Package sched исполняет задачи расписания: один периодический тик,
// повторение по 5-польному cron-правилу.
package sched

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"fleetwake/internal/dispatch"
	"fleetwake/internal/logs"
	"fleetwake/internal/models"
	"fleetwake/internal/repo"
)

// Sender — командный канал до живых устройств (Dispatcher.Send).
type Sender interface {
	Send(deviceID uint, verb string, delaySeconds int) bool
}

// Waker — передатчик wake-сигнала.
type Waker interface {
	Wake(mac, lastIP string) error
}

// passResult — сводка одного срабатывания, сохраняется в Task.LastResult.
type passResult struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
}

type Scheduler struct {
	tasks    *repo.TaskStore
	devices  *repo.DeviceStore
	sender   Sender
	waker    Waker
	interval time.Duration

	inFlight atomic.Bool
	stopCh   chan struct{}
}

func New(tasks *repo.TaskStore, devices *repo.DeviceStore, sender Sender, waker Waker, interval time.Duration) *Scheduler {
	return &Scheduler{
		tasks:    tasks,
		devices:  devices,
		sender:   sender,
		waker:    waker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start запускает периодическую проверку задач в фоне.
func (s *Scheduler) Start(ctx context.Context) {
	logs.Logger.Infof("sched: started, interval %s", s.interval)
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunPass(ctx, time.Now().UTC())
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() { close(s.stopCh) }

// RunPass — один проход по pending-задачам. Защита от самоперекрытия:
// пока предыдущий проход не завершился, новый не начинается — одно и то же
// срабатывание никогда не исполняется дважды конкурентно.
func (s *Scheduler) RunPass(ctx context.Context, now time.Time) {
	if !s.inFlight.CompareAndSwap(false, true) {
		logs.Logger.Debug("sched: previous pass still running, tick skipped")
		return
	}
	defer s.inFlight.Store(false)

	pending, err := s.tasks.Pending(ctx)
	if err != nil {
		logs.Logger.Errorf("sched: fetch pending tasks: %v", err)
		return
	}

	for i := range pending {
		t := &pending[i]
		if t.ExecutionTime.After(now) {
			continue
		}
		logs.Logger.Infof("sched: executing task %d (%s, target %s/%d)",
			t.ID, t.Kind, t.TargetKind, t.TargetID)
		s.execute(ctx, t)
		s.advance(ctx, t)
	}
}

// execute — fan-out задачи на её цели. Поддерживаются только группы;
// прочие виды целей — no-op с логом.
func (s *Scheduler) execute(ctx context.Context, t *models.Task) {
	if t.TargetKind != models.TargetKindGroup {
		logs.Logger.Warnf("sched: task %d has unsupported target kind %q", t.ID, t.TargetKind)
		return
	}

	members, err := s.devices.GetByGroup(ctx, t.TargetID)
	if err != nil {
		logs.Logger.Errorf("sched: task %d: resolve group %d: %v", t.ID, t.TargetID, err)
		return
	}

	res := passResult{Attempted: len(members)}
	switch t.Kind {
	case models.TaskKindShutdown, models.TaskKindReboot:
		verb := dispatch.VerbShutdown
		if t.Kind == models.TaskKindReboot {
			verb = dispatch.VerbReboot
		}
		for _, m := range members {
			// недостижимые молча пропускаются: доставка не гарантируется
			if s.sender.Send(m.ID, verb, t.DelaySeconds) {
				res.Delivered++
			} else {
				res.Skipped++
			}
		}
	case models.TaskKindWake:
		for _, m := range members {
			if m.MAC == "" {
				// устройство без MAC — пропуск устройства, не провал задачи
				res.Skipped++
				continue
			}
			if err := s.waker.Wake(m.MAC, m.IP); err != nil {
				logs.Logger.Warnf("sched: task %d: wake %s: %v", t.ID, m.MAC, err)
				res.Skipped++
			} else {
				res.Delivered++
			}
		}
	default:
		logs.Logger.Warnf("sched: task %d has unknown kind %q", t.ID, t.Kind)
		return
	}

	if b, err := json.Marshal(res); err == nil {
		if err := s.tasks.SetLastResult(ctx, t.ID, b); err != nil {
			logs.Logger.Warnf("sched: task %d: record result: %v", t.ID, err)
		}
	}
}

// advance переводит задачу в следующее состояние: повторяющейся — сдвигает
// время исполнения строго за текущее по cron-правилу, one-shot — completed.
// Неразбираемое правило навсегда фейлит задачу: иначе она будет
// перевычисляться каждый тик до бесконечности.
func (s *Scheduler) advance(ctx context.Context, t *models.Task) {
	if !t.IsRecurring() {
		if err := s.tasks.UpdateStatus(ctx, t.ID, models.TaskStatusCompleted); err != nil {
			logs.Logger.Errorf("sched: task %d: mark completed: %v", t.ID, err)
		}
		return
	}

	spec, err := cron.ParseStandard(t.RecurrenceRule)
	if err != nil {
		logs.Logger.Errorf("sched: task %d: bad recurrence rule %q: %v", t.ID, t.RecurrenceRule, err)
		if err := s.tasks.UpdateStatus(ctx, t.ID, models.TaskStatusFailed); err != nil {
			logs.Logger.Errorf("sched: task %d: mark failed: %v", t.ID, err)
		}
		return
	}

	// база — хранимое время исполнения, не now: сильно просроченная
	// задача догоняет расписание по одному шагу правила за срабатывание
	next := spec.Next(t.ExecutionTime)
	if err := s.tasks.UpdateNextRun(ctx, t.ID, next); err != nil {
		logs.Logger.Errorf("sched: task %d: advance next run: %v", t.ID, err)
		return
	}
	logs.Logger.Infof("sched: task %d rescheduled to %s", t.ID, next.Format(time.RFC3339))
}
