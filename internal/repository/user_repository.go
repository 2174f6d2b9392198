package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/prodflow/backend/internal/models"
)

// UserRepository provides persistence access for User entities.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a repository using the provided gorm DB.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create persists the user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return storeError(r.db.WithContext(ctx).Create(user).Error, "create user %s", user.Username)
}

// Update persists the modified user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	return storeError(r.db.WithContext(ctx).Save(user).Error, "update user %s", user.ID)
}

// Delete removes the user and its notifications.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.User{}, "id = ?", id)
		if res.Error != nil {
			return storeError(res.Error, "delete user %s", id)
		}
		if res.RowsAffected == 0 {
			return storeError(gorm.ErrRecordNotFound, "user %s", id)
		}
		return storeError(tx.Where("user_id = ?", id).Delete(&models.Notification{}).Error, "delete notifications of %s", id)
	})
}

// FindByID returns the user by id.
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, storeError(err, "user %s", id)
	}
	return &user, nil
}

// FindByUsername returns the user with the given username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		return nil, storeError(err, "user %q", username)
	}
	return &user, nil
}

// List returns all users ordered by username.
func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).Order("username asc").Find(&users).Error
	return users, storeError(err, "list users")
}

// ListByRoles returns the users holding any of the given roles.
func (r *UserRepository) ListByRoles(ctx context.Context, roles ...models.Role) ([]models.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var users []models.User
	err := r.db.WithContext(ctx).Where("role IN ?", roles).Order("username asc").Find(&users).Error
	return users, storeError(err, "list users by role")
}
