package model

import (
	"time"
)

const (
	AuthTypePIN         = "PIN"
	AuthTypePattern     = "PATTERN"
	AuthTypeFingerprint = "FINGERPRINT"
	AuthTypeFaceID      = "FACE_ID"
)

const (
	AuthFailWrongPIN            = "WRONG_PIN"
	AuthFailWrongPattern        = "WRONG_PATTERN"
	AuthFailBiometricNotEnabled = "BIOMETRIC_NOT_ENABLED"
	AuthFailAccountLocked       = "ACCOUNT_LOCKED"
	AuthFailInvalidAuthType     = "INVALID_AUTH_TYPE"
)

const (
	DefaultMaxAuthAttempts    = 5
	DefaultLockoutDuration    = 300 // 秒
	DefaultAuthRequiredAmount = 10000
)

// AuthSettings 用户二次认证设置
// PIN 和图案只保存 bcrypt 哈希
type AuthSettings struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID             int64      `gorm:"uniqueIndex;not null" json:"user_id"`
	PINHash            string     `gorm:"column:pin_hash;type:varchar(100)" json:"-"`
	PatternHash        string     `gorm:"type:varchar(100)" json:"-"`
	FingerprintEnabled bool       `gorm:"not null" json:"is_fingerprint_enabled"`
	FaceIDEnabled      bool       `gorm:"column:face_id_enabled;not null" json:"is_face_id_enabled"`
	MaxAuthAttempts    int        `gorm:"not null" json:"max_auth_attempts"`
	LockoutDuration    int        `gorm:"not null" json:"lockout_duration"` // 秒
	IsLocked           bool       `gorm:"not null" json:"is_locked"`
	LockedUntil        *time.Time `json:"locked_until,omitempty"`
	AuthRequiredAmount int64      `gorm:"not null" json:"auth_required_amount"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AuthSettings) TableName() string {
	return "user_auth_settings"
}

// LockedAt 判断在给定时间点账户是否处于锁定状态
func (s *AuthSettings) LockedAt(now time.Time) bool {
	return s.IsLocked && s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// AuthAttempt 认证尝试记录（只追加）
// Counted=false 表示锁定期间的尝试，只做审计，不计入失败次数
type AuthAttempt struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64     `gorm:"index:idx_auth_attempt_user_time;not null" json:"user_id"`
	AuthType      string    `gorm:"type:varchar(20);not null" json:"auth_type"`
	IsSuccess     bool      `gorm:"not null" json:"is_success"`
	Counted       bool      `gorm:"not null" json:"counted"`
	FailureReason string    `gorm:"type:varchar(100)" json:"failure_reason,omitempty"`
	DeviceInfo    string    `gorm:"type:text" json:"device_info,omitempty"`
	AttemptedAt   time.Time `gorm:"index:idx_auth_attempt_user_time;not null" json:"attempted_at"`
}

func (AuthAttempt) TableName() string {
	return "auth_attempts"
}
