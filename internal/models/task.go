package models

import (
	"time"

	"gorm.io/datatypes"
)

// Виды задач.
const (
	TaskKindShutdown = "shutdown"
	TaskKindReboot   = "reboot"
	TaskKindWake     = "wake"
)

// Статусы задач.
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Виды целей. Пока поддерживаются только группы.
const (
	TargetKindGroup = "group"
)

// RecurrenceOnce — сентинел "выполнить один раз" (наравне с пустой строкой).
const RecurrenceOnce = "once"

// Task — отложенная (и, возможно, повторяющаяся) команда по расписанию.
// RecurrenceRule — стандартный 5-польный cron (минута час день месяц день-недели).
type Task struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Kind           string    `gorm:"size:32;not null" json:"kind"`
	ExecutionTime  time.Time `gorm:"index;not null" json:"execution_time"`
	RecurrenceRule string    `gorm:"size:255" json:"recurrence_rule"`
	DelaySeconds   int       `gorm:"default:0" json:"delay_seconds"` // только для shutdown/reboot
	TargetKind     string    `gorm:"size:32;not null" json:"target_kind"`
	TargetID       uint      `gorm:"not null" json:"target_id"`
	Status         string    `gorm:"size:32;not null;default:pending" json:"status"`

	// Итог последнего срабатывания: {"attempted":N,"reachable":N,"unreachable":N}.
	LastResult datatypes.JSON `json:"last_result,omitempty"`
}

// IsRecurring — true, если задача несёт правило повторения (не one-shot).
func (t *Task) IsRecurring() bool {
	return t.RecurrenceRule != "" && t.RecurrenceRule != RecurrenceOnce
}
