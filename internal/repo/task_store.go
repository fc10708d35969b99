package repo

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"fleetwake/internal/models"
)

type TaskStore struct{ db *gorm.DB }

func NewTaskStore(db *gorm.DB) *TaskStore { return &TaskStore{db: db} }

type CreateTaskInput struct {
	Kind           string
	ExecutionTime  time.Time
	RecurrenceRule string
	DelaySeconds   int
	TargetKind     string
	TargetID       uint
}

func (s *TaskStore) Create(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	t := models.Task{
		Kind:           in.Kind,
		ExecutionTime:  in.ExecutionTime.UTC(),
		RecurrenceRule: in.RecurrenceRule,
		DelaySeconds:   in.DelaySeconds,
		TargetKind:     in.TargetKind,
		TargetID:       in.TargetID,
		Status:         models.TaskStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TaskStore) GetAll(ctx context.Context) ([]models.Task, error) {
	var out []models.Task
	err := s.db.WithContext(ctx).Order("execution_time").Find(&out).Error
	return out, err
}

// Pending — задачи в статусе pending, отсортированные по времени исполнения.
func (s *TaskStore) Pending(ctx context.Context) ([]models.Task, error) {
	var out []models.Task
	err := s.db.WithContext(ctx).
		Where("status = ?", models.TaskStatusPending).
		Order("execution_time").
		Find(&out).Error
	return out, err
}

func (s *TaskStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Task{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *TaskStore) UpdateStatus(ctx context.Context, id uint, status string) error {
	return s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// UpdateNextRun сдвигает время исполнения повторяющейся задачи.
func (s *TaskStore) UpdateNextRun(ctx context.Context, id uint, next time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		Update("execution_time", next.UTC()).Error
}

// SetLastResult фиксирует итог последнего срабатывания (JSON-сводку fan-out).
func (s *TaskStore) SetLastResult(ctx context.Context, id uint, result []byte) error {
	return s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		Update("last_result", datatypes.JSON(result)).Error
}
