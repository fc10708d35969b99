package models

import (
	"time"
)

// Device — постоянная запись об агенте. Натуральный ключ — MAC-адрес:
// hostname может меняться, MAC — нет.
type Device struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Hostname string `gorm:"size:255;not null" json:"hostname"`
	MAC      string `gorm:"uniqueIndex;size:64;not null" json:"mac"`
	IP       string `gorm:"size:64" json:"ip"`     // последний известный адрес
	Name     string `gorm:"size:255" json:"name"`  // отображаемое имя (задаёт оператор)
	GroupID  *uint  `gorm:"index" json:"group_id"` // nil — вне группы

	FirstSeen time.Time `gorm:"not null" json:"first_seen"`
	LastSeen  time.Time `gorm:"not null" json:"last_seen"`
}

// Group — именованная коллекция устройств. Удаление группы отвязывает
// участников (GroupID → nil), сами устройства не удаляются.
type Group struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Name        string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Description string    `gorm:"size:1024" json:"description"`
}
