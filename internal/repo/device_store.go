package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"fleetwake/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
)

type DeviceStore struct{ db *gorm.DB }

func NewDeviceStore(db *gorm.DB) *DeviceStore { return &DeviceStore{db: db} }

// -------- Resolve (идентификация при handshake) --------

// Resolve сопоставляет пару (hostname, mac) с постоянной записью устройства.
// Поиск — только по MAC: hostname фиксируется, но для матчинга не используется.
// Есть запись — обновляем hostname/IP/last_seen; нет — создаём новую.
func (s *DeviceStore) Resolve(ctx context.Context, hostname, mac, ip string) (*models.Device, error) {
	now := time.Now().UTC()

	var d models.Device
	err := s.db.WithContext(ctx).Where("mac = ?", mac).First(&d).Error
	if err == nil {
		d.Hostname = hostname
		d.IP = ip
		d.LastSeen = now
		if err := s.db.WithContext(ctx).Save(&d).Error; err != nil {
			return nil, err
		}
		return &d, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	d = models.Device{
		Hostname:  hostname,
		MAC:       mac,
		IP:        ip,
		FirstSeen: now,
		LastSeen:  now,
	}
	if err := s.db.WithContext(ctx).Create(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// -------- Запросы --------

func (s *DeviceStore) GetByID(ctx context.Context, id uint) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeviceStore) GetAll(ctx context.Context) ([]models.Device, error) {
	var out []models.Device
	err := s.db.WithContext(ctx).Order("last_seen DESC").Find(&out).Error
	return out, err
}

func (s *DeviceStore) GetByGroup(ctx context.Context, groupID uint) ([]models.Device, error) {
	var out []models.Device
	err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Find(&out).Error
	return out, err
}

// -------- Мутации оператора --------

// UpdateDetails задаёт отображаемое имя и группу (nil — отвязать от группы).
func (s *DeviceStore) UpdateDetails(ctx context.Context, id uint, name string, groupID *uint) error {
	res := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":     name,
			"group_id": groupID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет запись устройства. Живое соединение при этом не трогаем:
// Live Route принадлежит реестру и умрёт вместе с сокетом.
func (s *DeviceStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Device{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
