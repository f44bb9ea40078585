package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting keys read by the collection engine.
const (
	SettingKeyCollect = "collect"
	SettingKeySystem  = "system"
)

// Setting represents key-value configuration stored as JSON.
type Setting struct {
	Key       string         `gorm:"primaryKey;column:key;type:varchar(64)" json:"key"`
	Value     datatypes.JSON `gorm:"column:value" json:"value"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Setting) TableName() string {
	return "bb_setting"
}
