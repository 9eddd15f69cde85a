package main

import (
	"context"
	"errors"

	"chmsapp/models"

	"gorm.io/gorm"
)

var (
	// ErrUserNotFound means no user record matched the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUpdateFailed means an update left no retrievable record behind.
	ErrUpdateFailed = errors.New("password not updated")
)

// UserStore is the credential-store contract the account and user services
// depend on. UpdateFields is a partial patch: omitted columns are untouched.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id uint) (*models.User, error)
	List(ctx context.Context, skip, limit int) ([]models.User, error)
	Create(ctx context.Context, u *models.User) error
	UpdateFields(ctx context.Context, id uint, fields map[string]any) error
	Delete(ctx context.Context, id uint) error
	Count(ctx context.Context) (int64, error)
	ExistsUsername(ctx context.Context, username string) (bool, error)
}

type gormUserStore struct {
	db *gorm.DB
}

// NewUserStore wraps a gorm handle in the UserStore contract.
func NewUserStore(db *gorm.DB) UserStore {
	return &gormUserStore{db: db}
}

func (s *gormUserStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Contact").Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *gormUserStore) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Contact").First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *gormUserStore) List(ctx context.Context, skip, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	var users []models.User
	err := s.db.WithContext(ctx).Preload("Contact").
		Order("id").Offset(skip).Limit(limit).Find(&users).Error
	return users, err
}

func (s *gormUserStore) Create(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *gormUserStore) UpdateFields(ctx context.Context, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields).Error
}

func (s *gormUserStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.User{}, id).Error
}

func (s *gormUserStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error
	return n, err
}

func (s *gormUserStore) ExistsUsername(ctx context.Context, username string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&n).Error
	return n > 0, err
}
