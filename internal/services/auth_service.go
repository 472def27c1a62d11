package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"household-planet/internal/apperror"
	"household-planet/internal/auth"
	"household-planet/internal/database"
	"household-planet/internal/logger"
	"household-planet/internal/models"
)

// AuthService проверяет учётные данные и выдаёт JWT.
type AuthService struct {
	db     *database.DB
	tokens *auth.TokenService
	log    *logger.Logger
}

// NewAuthService создает сервис входа.
func NewAuthService(db *database.DB, tokens *auth.TokenService, log *logger.Logger) *AuthService {
	return &AuthService{db: db, tokens: tokens, log: log}
}

// Login ищет пользователя по email и сверяет bcrypt-хеш. Неизвестный email и неверный
// пароль дают одинаковую ошибку.
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, apperror.Validation("email and password are required", nil)
	}

	user := &models.User{}
	query := `
		SELECT id, email, phone, full_name, password_hash, role, created_at
		FROM users
		WHERE LOWER(email) = $1
	`
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.Phone, &user.FullName, &user.PasswordHash, &user.Role, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.Unauthorized("invalid email or password", nil)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := auth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		s.log.WithField("user_id", user.ID).Warn("Failed login attempt")
		return nil, apperror.Unauthorized("invalid email or password", nil)
	}
	if !auth.KnownRole(user.Role) {
		return nil, apperror.Forbidden("account role is not allowed to sign in", nil)
	}

	token, expiresAt, err := s.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User logged in")

	return &models.LoginResponse{Token: token, ExpiresAt: expiresAt, User: user}, nil
}
