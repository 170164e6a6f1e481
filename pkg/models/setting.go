package models

import "time"

// Setting stores system-wide key-value settings, including the SMTP
// configuration consumed by the email layer.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:255" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// Well-known setting keys for the SMTP configuration bag.
const (
	SettingSMTPEnabled  = "smtp.enabled"
	SettingSMTPHost     = "smtp.host"
	SettingSMTPPort     = "smtp.port"
	SettingSMTPUser     = "smtp.user"
	SettingSMTPPassword = "smtp.password"
	SettingSMTPFrom     = "smtp.from"
	SettingSMTPSecure   = "smtp.secure"
)
