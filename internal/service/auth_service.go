package service

import (
	"context"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/model"
	"pointpay/internal/repository"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthService 支付前的二次认证（PIN / 图案 / 生物识别）
type AuthService struct {
	cfg      *config.Config
	logger   *zap.Logger
	authRepo *repository.AuthRepository
	now      func() time.Time
}

func NewAuthService(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		cfg:      cfg,
		logger:   logger,
		authRepo: repository.NewAuthRepository(db),
		now:      utcNow,
	}
}

type AuthRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	AuthType   string `json:"auth_type" binding:"required"`
	AuthValue  string `json:"auth_value"`
	DeviceInfo string `json:"device_info"`
}

type AuthResult struct {
	Success           bool       `json:"success"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	RemainingAttempts int        `json:"remaining_attempts"`
	Locked            bool       `json:"locked"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}

// Authenticate 校验一次认证请求
//
// 锁定规则：统计窗口内（含本次）的失败次数 failures，remaining = max(0, max_auth_attempts - failures)。
// remaining <= 1 时直接锁定 lockout_duration 秒；否则返回 remaining - 1。
// 锁定期间的尝试只做审计记录，不计入失败次数。
func (s *AuthService) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	settings, err := s.authRepo.GetSettings(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrAuthSettingsNotFound) {
			return nil, newError(KindNotFound, "用户认证设置不存在: user_id=%d", req.UserID)
		}
		return nil, internalError(err, "查询认证设置失败")
	}

	now := s.now()

	if settings.LockedAt(now) {
		s.recordAttempt(ctx, &model.AuthAttempt{
			UserID:        req.UserID,
			AuthType:      req.AuthType,
			IsSuccess:     false,
			Counted:       false,
			FailureReason: model.AuthFailAccountLocked,
			DeviceInfo:    req.DeviceInfo,
			AttemptedAt:   now,
		})
		return &AuthResult{
			FailureReason:     model.AuthFailAccountLocked,
			RemainingAttempts: 0,
			Locked:            true,
			LockedUntil:       settings.LockedUntil,
		}, nil
	}

	ok, failureReason := s.verify(settings, req)

	s.recordAttempt(ctx, &model.AuthAttempt{
		UserID:        req.UserID,
		AuthType:      req.AuthType,
		IsSuccess:     ok,
		Counted:       true,
		FailureReason: failureReason,
		DeviceInfo:    req.DeviceInfo,
		AttemptedAt:   now,
	})

	if ok {
		// 锁定已过期的账户在认证成功后解锁
		if settings.IsLocked {
			if err := s.authRepo.Unlock(ctx, req.UserID); err != nil {
				return nil, internalError(err, "解除锁定失败")
			}
		}
		return &AuthResult{
			Success:           true,
			RemainingAttempts: settings.MaxAuthAttempts,
		}, nil
	}

	window := time.Duration(s.cfg.Auth.FailureWindowSeconds) * time.Second
	failures, err := s.authRepo.CountRecentFailures(ctx, req.UserID, now.Add(-window))
	if err != nil {
		return nil, internalError(err, "统计认证失败次数失败")
	}

	remaining := max(0, settings.MaxAuthAttempts-int(failures))
	if remaining <= 1 {
		lockedUntil := now.Add(time.Duration(settings.LockoutDuration) * time.Second)
		if err := s.authRepo.Lock(ctx, req.UserID, lockedUntil); err != nil {
			return nil, internalError(err, "锁定账户失败")
		}

		s.logger.Warn("认证失败次数过多，账户已锁定",
			zap.Int64("user_id", req.UserID),
			zap.Int64("failures", failures),
			zap.Time("locked_until", lockedUntil),
		)

		return &AuthResult{
			FailureReason:     model.AuthFailAccountLocked,
			RemainingAttempts: 0,
			Locked:            true,
			LockedUntil:       &lockedUntil,
		}, nil
	}

	return &AuthResult{
		FailureReason:     failureReason,
		RemainingAttempts: remaining - 1,
	}, nil
}

func (s *AuthService) verify(settings *model.AuthSettings, req *AuthRequest) (bool, string) {
	switch req.AuthType {
	case model.AuthTypePIN:
		if settings.PINHash != "" && compareSecret(settings.PINHash, req.AuthValue) {
			return true, ""
		}
		return false, model.AuthFailWrongPIN
	case model.AuthTypePattern:
		if settings.PatternHash != "" && compareSecret(settings.PatternHash, req.AuthValue) {
			return true, ""
		}
		return false, model.AuthFailWrongPattern
	case model.AuthTypeFingerprint:
		// 生物识别由设备端完成，这里只校验是否开启
		if settings.FingerprintEnabled {
			return true, ""
		}
		return false, model.AuthFailBiometricNotEnabled
	case model.AuthTypeFaceID:
		if settings.FaceIDEnabled {
			return true, ""
		}
		return false, model.AuthFailBiometricNotEnabled
	default:
		return false, model.AuthFailInvalidAuthType
	}
}

// recordAttempt 审计记录写入失败不影响认证结果
func (s *AuthService) recordAttempt(ctx context.Context, attempt *model.AuthAttempt) {
	if err := s.authRepo.CreateAttempt(ctx, attempt); err != nil {
		s.logger.Error("记录认证尝试失败",
			zap.Int64("user_id", attempt.UserID),
			zap.String("auth_type", attempt.AuthType),
			zap.Error(err),
		)
	}
}

type SaveAuthSettingsRequest struct {
	UserID             int64  `json:"user_id" binding:"required"`
	PIN                string `json:"pin"`
	Pattern            string `json:"pattern"`
	FingerprintEnabled bool   `json:"is_fingerprint_enabled"`
	FaceIDEnabled      bool   `json:"is_face_id_enabled"`
	MaxAuthAttempts    int    `json:"max_auth_attempts"`
	LockoutDuration    int    `json:"lockout_duration"`
	AuthRequiredAmount *int64 `json:"auth_required_amount"`
}

// SaveSettings 创建或覆盖认证设置
// PIN/图案为空时保留原值，数值字段未填写时使用默认值
func (s *AuthService) SaveSettings(ctx context.Context, req *SaveAuthSettingsRequest) (*model.AuthSettings, error) {
	if req.MaxAuthAttempts < 0 || req.LockoutDuration < 0 {
		return nil, newError(KindInvalidRequest, "认证次数和锁定时长不能为负数")
	}
	if req.AuthRequiredAmount != nil && *req.AuthRequiredAmount < 0 {
		return nil, newError(KindInvalidRequest, "免密金额不能为负数")
	}

	settings := &model.AuthSettings{
		UserID:             req.UserID,
		FingerprintEnabled: req.FingerprintEnabled,
		FaceIDEnabled:      req.FaceIDEnabled,
		MaxAuthAttempts:    model.DefaultMaxAuthAttempts,
		LockoutDuration:    model.DefaultLockoutDuration,
		AuthRequiredAmount: model.DefaultAuthRequiredAmount,
	}

	existing, err := s.authRepo.GetSettings(ctx, req.UserID)
	switch {
	case err == nil:
		settings.PINHash = existing.PINHash
		settings.PatternHash = existing.PatternHash
	case errors.Is(err, repository.ErrAuthSettingsNotFound):
	default:
		return nil, internalError(err, "查询认证设置失败")
	}

	if req.MaxAuthAttempts > 0 {
		settings.MaxAuthAttempts = req.MaxAuthAttempts
	}
	if req.LockoutDuration > 0 {
		settings.LockoutDuration = req.LockoutDuration
	}
	if req.AuthRequiredAmount != nil {
		settings.AuthRequiredAmount = *req.AuthRequiredAmount
	}

	if req.PIN != "" {
		if settings.PINHash, err = s.hashSecret(req.PIN); err != nil {
			return nil, err
		}
	}
	if req.Pattern != "" {
		if settings.PatternHash, err = s.hashSecret(req.Pattern); err != nil {
			return nil, err
		}
	}

	if err := s.authRepo.SaveSettings(ctx, settings); err != nil {
		return nil, internalError(err, "保存认证设置失败")
	}

	return s.GetSettings(ctx, req.UserID)
}

// GetSettings 返回的结构体中哈希字段不会被序列化
func (s *AuthService) GetSettings(ctx context.Context, userID int64) (*model.AuthSettings, error) {
	settings, err := s.authRepo.GetSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAuthSettingsNotFound) {
			return nil, newError(KindNotFound, "用户认证设置不存在: user_id=%d", userID)
		}
		return nil, internalError(err, "查询认证设置失败")
	}
	return settings, nil
}

// RequiresAuth 判断该金额是否需要二次认证，未配置时按默认阈值
func (s *AuthService) RequiresAuth(ctx context.Context, userID, amount int64) (bool, error) {
	settings, err := s.authRepo.GetSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAuthSettingsNotFound) {
			return amount >= model.DefaultAuthRequiredAmount, nil
		}
		return false, internalError(err, "查询认证设置失败")
	}
	return amount >= settings.AuthRequiredAmount, nil
}

func (s *AuthService) hashSecret(secret string) (string, error) {
	cost := s.cfg.Auth.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", wrapError(KindInvalidRequest, err, "认证信息格式不合法")
	}
	return string(hash), nil
}

func compareSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// ListAttempts 最近的认证记录，按时间倒序
func (s *AuthService) ListAttempts(ctx context.Context, userID int64, limit int) ([]*model.AuthAttempt, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	attempts, err := s.authRepo.ListAttempts(ctx, userID, limit)
	if err != nil {
		return nil, internalError(err, "查询认证记录失败")
	}
	return attempts, nil
}
