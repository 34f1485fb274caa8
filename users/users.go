package users

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"recetario/auth"
	"recetario/models"
)

const (
	registrationCodeTTL  = 24 * time.Hour
	passwordResetTTL     = 30 * time.Minute
	nicknameSuggestLimit = 5
)

var (
	emailRegex    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nicknameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// CodeSender delivers the one-time codes used by signup and password reset.
// Satisfied by email.EmailService.
type CodeSender interface {
	SendRegistrationCode(to, nickname, code string) error
	SendPasswordResetCode(to, code string) error
}

type UsersModule struct {
	db     *gorm.DB
	emails CodeSender
	logger *zap.Logger
}

func NewUsersModule(db *gorm.DB, emails CodeSender, logger *zap.Logger) *UsersModule {
	return &UsersModule{db: db, emails: emails, logger: logger}
}

func (m *UsersModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/users")
	{
		group.POST("/validate", m.validate)
		group.POST("/register", m.register)
		group.POST("/login", m.login)
		group.POST("/password-reset/request", m.requestPasswordReset)
		group.POST("/password-reset/confirm", m.confirmPasswordReset)

		group.GET("/me", auth.RequireAuth(m.db), m.me)
	}
}

type validateRequest struct {
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// validate is step one of signup: checks availability, stores a pending
// registration and mails its confirmation code.
func (m *UsersModule) validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Nickname = strings.TrimSpace(req.Nickname)

	if req.Email == "" || req.Nickname == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and nickname are required"})
		return
	}
	if !emailRegex.MatchString(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email format"})
		return
	}
	if !nicknameRegex.MatchString(req.Nickname) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nickname may only contain letters, numbers and underscores"})
		return
	}

	var existing models.User
	if err := m.db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":              "email already registered",
			"can_reset_password": true,
		})
		return
	}
	if err := m.db.Where("nickname = ?", req.Nickname).First(&existing).Error; err == nil {
		var suggestions []string
		m.db.Model(&models.User{}).
			Where("nickname LIKE ?", req.Nickname+"%").
			Limit(nicknameSuggestLimit).
			Pluck("nickname", &suggestions)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":               "nickname already taken",
			"suggested_nicknames": suggestions,
		})
		return
	}

	code, err := generateCode(3) // 6 hex chars
	if err != nil {
		m.logger.Error("failed to generate registration code", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	pending := models.TempRegistration{
		Email:            req.Email,
		Nickname:         req.Nickname,
		RegistrationCode: code,
		CodeExpiry:       time.Now().Add(registrationCodeTTL),
	}
	if err := m.db.Create(&pending).Error; err != nil {
		m.logger.Error("failed to store pending registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if err := m.emails.SendRegistrationCode(req.Email, req.Nickname, code); err != nil {
		m.logger.Error("failed to send registration code", zap.String("email", req.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send registration email"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "code sent", "code_expiry": pending.CodeExpiry})
}

type registerRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	RegistrationCode string `json:"registrationCode"`
}

// register is step two: the emailed code plus a password complete the account.
func (m *UsersModule) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Email == "" || req.Password == "" || req.RegistrationCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email, password and registrationCode are required"})
		return
	}
	if len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	var pending models.TempRegistration
	err := m.db.
		Where("email = ? AND registration_code = ? AND code_expiry > ?", req.Email, req.RegistrationCode, time.Now()).
		First(&pending).Error
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired registration code"})
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		m.logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	user := models.User{
		Email:        pending.Email,
		Nickname:     pending.Nickname,
		PasswordHash: passwordHash,
		Enabled:      true,
	}
	err = m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Where("email = ?", pending.Email).Delete(&models.TempRegistration{}).Error
	})
	if err != nil {
		m.logger.Error("failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user_id": user.ID})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (m *UsersModule) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var user models.User
	if err := m.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect email or password"})
		return
	}
	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect email or password"})
		return
	}
	if !user.Enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}

	token, err := auth.IssueToken(&user)
	if err != nil {
		m.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

type resetRequest struct {
	Email string `json:"email"`
}

func (m *UsersModule) requestPasswordReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var user models.User
	if err := m.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		// do not reveal whether the address exists
		c.JSON(http.StatusOK, gin.H{"status": "code sent"})
		return
	}

	code, err := generateCode(4) // 8 hex chars
	if err != nil {
		m.logger.Error("failed to generate reset code", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	reset := models.PasswordReset{
		Email:      req.Email,
		ResetCode:  code,
		CodeExpiry: time.Now().Add(passwordResetTTL),
	}
	if err := m.db.Create(&reset).Error; err != nil {
		m.logger.Error("failed to store password reset", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if err := m.emails.SendPasswordResetCode(req.Email, code); err != nil {
		m.logger.Error("failed to send reset code", zap.String("email", req.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send reset email"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "code sent"})
}

type resetConfirmRequest struct {
	Email       string `json:"email"`
	ResetCode   string `json:"resetCode"`
	NewPassword string `json:"newPassword"`
}

func (m *UsersModule) confirmPasswordReset(c *gin.Context) {
	var req resetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.NewPassword) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	var reset models.PasswordReset
	err := m.db.
		Where("email = ? AND reset_code = ? AND code_expiry > ?", req.Email, req.ResetCode, time.Now()).
		First(&reset).Error
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired reset code"})
		return
	}

	passwordHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		m.logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	err = m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("email = ?", req.Email).
			Update("password_hash", passwordHash).Error; err != nil {
			return err
		}
		return tx.Where("email = ?", req.Email).Delete(&models.PasswordReset{}).Error
	})
	if err != nil {
		m.logger.Error("failed to reset password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

func (m *UsersModule) me(c *gin.Context) {
	c.JSON(http.StatusOK, auth.CurrentUser(c))
}

func generateCode(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}
