package allowlist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidUserID  = errors.New("invalid user id")
	ErrAlreadyAllowed = errors.New("user is already allowed")
)

// AllowedUser is a user that may use the web tier regardless of their
// guild permissions.
type AllowedUser struct {
	UserID    string    `gorm:"primaryKey;type:varchar(20)" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (AllowedUser) TableName() string {
	return "allowed_users"
}

// Repository defines the allow-list operations.
type Repository interface {
	Init(ctx context.Context) error
	List(ctx context.Context) ([]AllowedUser, error)
	Add(ctx context.Context, userID string) error
	IsAllowed(ctx context.Context, userID string) (bool, error)
}

// repository is the GORM implementation of Repository.
type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Init creates the allowed_users table when it does not exist yet.
func (r *repository) Init(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&AllowedUser{}); err != nil {
		return fmt.Errorf("failed to migrate allowed_users: %w", err)
	}
	return nil
}

func (r *repository) List(ctx context.Context) ([]AllowedUser, error) {
	var users []AllowedUser
	if err := r.db.WithContext(ctx).Order("created_at").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list allowed users: %w", err)
	}
	return users, nil
}

func (r *repository) Add(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&AllowedUser{UserID: userID})
	if result.Error != nil {
		return fmt.Errorf("failed to add allowed user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyAllowed
	}
	return nil
}

func (r *repository) IsAllowed(ctx context.Context, userID string) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&AllowedUser{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check allowed user: %w", err)
	}
	return count > 0, nil
}

// validateUserID accepts positive decimal snowflakes only.
func validateUserID(userID string) error {
	id, err := strconv.ParseUint(userID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}
