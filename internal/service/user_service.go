package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/auth"
	"github.com/example/prodflow/backend/internal/logging"
	"github.com/example/prodflow/backend/internal/models"
	"github.com/example/prodflow/backend/internal/repository"
)

// UserService manages operators and issues session tokens.
type UserService struct {
	users    *repository.UserRepository
	secret   string
	tokenTTL time.Duration
	log      *zap.Logger
}

// NewUserService builds a service with dependencies.
func NewUserService(users *repository.UserRepository, secret string, tokenTTL time.Duration, log *zap.Logger) *UserService {
	return &UserService{users: users, secret: secret, tokenTTL: tokenTTL, log: logging.OrNop(log).Named("users")}
}

// Session is the result of a successful login.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login checks credentials and issues a token.
func (s *UserService) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Unauthenticated("invalid username or password")
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return nil, apperr.Unauthenticated("invalid username or password")
	}
	token, err := auth.IssueToken(user, s.secret, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: user}, nil
}

// UserInput creates or edits a user. Empty fields are left unchanged on edit.
type UserInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// CreateUser registers a new operator. The admin check is done by the caller
// so the bootstrap command can create the first admin.
func (s *UserService) CreateUser(ctx context.Context, in UserInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	if in.Password == "" {
		return nil, apperr.Validation("password is required")
	}
	role, err := models.ParseRole(strings.TrimSpace(in.Role))
	if err != nil {
		return nil, apperr.Validation("unknown role %q", in.Role)
	}
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return nil, apperr.Validation("username %q is taken", username)
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = username
	}
	user := &models.User{Username: username, PasswordHash: hash, Name: name, Role: role}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("user created", zap.String("username", username), zap.String("role", string(role)))
	return user, nil
}

// FindByID returns the current state of an account.
func (s *UserService) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

// ListUsers returns every user.
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

// UpdateUser edits name, role or password.
func (s *UserService) UpdateUser(ctx context.Context, id uuid.UUID, in UserInput) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		user.Name = name
	}
	if in.Role != "" {
		role, err := models.ParseRole(strings.TrimSpace(in.Role))
		if err != nil {
			return nil, apperr.Validation("unknown role %q", in.Role)
		}
		user.Role = role
	}
	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user other than the caller.
func (s *UserService) DeleteUser(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	if p.UserID == id {
		return apperr.Validation("cannot delete the current user")
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("user deleted", zap.String("user_id", id.String()), zap.String("by", p.Name))
	return nil
}

// NotificationService exposes the inbox of the calling user.
type NotificationService struct {
	notifications *repository.NotificationRepository
}

// NewNotificationService builds a service with dependencies.
func NewNotificationService(notifications *repository.NotificationRepository) *NotificationService {
	return &NotificationService{notifications: notifications}
}

// Inbox is a page of notifications and the unread total.
type Inbox struct {
	Items  []models.Notification `json:"items"`
	Unread int64                 `json:"unread"`
}

// List returns the newest notifications of the caller.
func (s *NotificationService) List(ctx context.Context, p auth.Principal, unreadOnly bool, limit int) (*Inbox, error) {
	items, err := s.notifications.ListForUser(ctx, p.UserID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.notifications.CountUnread(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return &Inbox{Items: items, Unread: unread}, nil
}

// MarkRead flips one notification of the caller.
func (s *NotificationService) MarkRead(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	return s.notifications.MarkRead(ctx, p.UserID, id)
}

// MarkAllRead flips every unread notification of the caller.
func (s *NotificationService) MarkAllRead(ctx context.Context, p auth.Principal) (int64, error) {
	return s.notifications.MarkAllRead(ctx, p.UserID)
}
