package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fleetwake/internal/models"
)

type GroupStore struct{ db *gorm.DB }

func NewGroupStore(db *gorm.DB) *GroupStore { return &GroupStore{db: db} }

func (s *GroupStore) Create(ctx context.Context, name, description string) (*models.Group, error) {
	g := models.Group{Name: name, Description: description}
	if err := s.db.WithContext(ctx).Create(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *GroupStore) GetAll(ctx context.Context) ([]models.Group, error) {
	var out []models.Group
	err := s.db.WithContext(ctx).Order("name").Find(&out).Error
	return out, err
}

func (s *GroupStore) GetByID(ctx context.Context, id uint) (*models.Group, error) {
	var g models.Group
	err := s.db.WithContext(ctx).First(&g, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Delete удаляет группу и отвязывает её участников (group_id → NULL).
// Аналог ON DELETE SET NULL, но явно и в одной транзакции — чтобы не
// зависеть от включённости FK у конкретного драйвера.
func (s *GroupStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Device{}).
			Where("group_id = ?", id).
			Update("group_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Group{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
