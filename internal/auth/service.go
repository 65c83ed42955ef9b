// Package auth registers and logs in platform users and issues their JWTs.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/apperr"
	"github.com/oriyet/backend/pkg/utils"
)

const msgBadCredentials = "Invalid email or password"

// Session is a logged-in user with their token.
type Session struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// RegisterInput creates an account. New accounts always get the user role.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

// Service authenticates users.
type Service struct {
	users  store.UserRepository
	jwt    *JWTService
	logger *zap.Logger
}

// NewService creates an auth service.
func NewService(users store.UserRepository, jwt *JWTService, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, jwt: jwt, logger: logger}
}

// Register creates a user account and logs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperr.Conflict("Email already registered")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, store.Translate(err, "User not found")
	}

	hash, err := utils.HashPassword(in.Password)
	if errors.Is(err, utils.ErrPasswordTooLong) {
		return nil, apperr.Validation("Password must be at most 72 bytes")
	}
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}
	u := &models.User{
		Name:     strings.TrimSpace(in.Name),
		Email:    email,
		Password: hash,
		Phone:    strings.TrimSpace(in.Phone),
		Role:     models.RoleUser,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Conflict("Email already registered")
		}
		return nil, store.Translate(err, "User not found")
	}
	s.logger.Info("User registered", zap.String("user_id", u.ID.String()))
	return s.session(u)
}

// Login checks credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthorized(msgBadCredentials)
	}
	if err != nil {
		return nil, store.Translate(err, "User not found")
	}
	if !utils.CheckPassword(password, u.Password) {
		return nil, apperr.Unauthorized(msgBadCredentials)
	}
	return s.session(u)
}

// Me returns the public profile of the authenticated user.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*models.UserPublic, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, store.Translate(err, "User not found")
	}
	pub := u.ToPublic()
	return &pub, nil
}

func (s *Service) session(u *models.User) (*Session, error) {
	token, err := s.jwt.Generate(u.ID, u.Email, string(u.Role))
	if err != nil {
		return nil, apperr.Internal("generate token", err)
	}
	return &Session{Token: token, User: u.ToPublic()}, nil
}
