package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chmsapp/models"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrUserExists is returned when a username is already taken.
var ErrUserExists = errors.New("user already exists")

// ContactRef is the embedded contact reference in user list payloads.
type ContactRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// UserListItem is the API shape of a user record: auth state plus the linked
// contact's display fields, never the password hash.
type UserListItem struct {
	ID        uint       `json:"id"`
	Username  string     `json:"username"`
	Roles     []string   `json:"roles"`
	ContactID uint       `json:"contactId"`
	FullName  string     `json:"fullName"`
	Avatar    string     `json:"avatar"`
	Contact   ContactRef `json:"contact"`
}

// RegisterInput creates a contact and its user account in one step.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
	Roles     []string
}

// UpdateUserInput is a partial patch: nil Roles and empty Password mean
// "leave unchanged".
type UpdateUserInput struct {
	ID       uint
	Roles    []string
	Password string
}

// UserService implements the administrative user CRUD operations. Contacts
// are owned by the wider CRM; the service only reads them and creates the
// minimal person record during registration.
type UserService struct {
	store UserStore
	db    *gorm.DB
}

func NewUserService(store UserStore, db *gorm.DB) *UserService {
	return &UserService{store: store, db: db}
}

func (s *UserService) List(ctx context.Context, skip, limit int) ([]UserListItem, error) {
	users, err := s.store.List(ctx, skip, limit)
	if err != nil {
		return nil, err
	}
	items := make([]UserListItem, 0, len(users))
	for _, u := range users {
		items = append(items, toListItem(u))
	}
	return items, nil
}

func (s *UserService) Get(ctx context.Context, id uint) (UserListItem, error) {
	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		return UserListItem{}, err
	}
	return toListItem(*user), nil
}

// CreateForContact creates a user account for an existing contact; the
// username mirrors the contact's email.
func (s *UserService) CreateForContact(ctx context.Context, contactID uint, password string, roles []string) (*models.User, error) {
	if len(password) < 6 {
		return nil, ErrPasswordPolicy
	}
	var contact models.Contact
	if err := s.db.WithContext(ctx).First(&contact, contactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("contact %d not found", contactID)
		}
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:     contact.Email,
		PasswordHash: hash,
		Roles:        roles,
		ContactID:    contact.ID,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// Register creates the contact and the user account together; used by the
// bootstrap CLI since seeding is out of scope.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" {
		return nil, fmt.Errorf("email required")
	}
	if len(in.Password) < 6 {
		return nil, ErrPasswordPolicy
	}
	taken, err := s.store.ExistsUsername(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUserExists
	}
	contact := models.Contact{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
	}
	if err := s.db.WithContext(ctx).Create(&contact).Error; err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:     in.Email,
		PasswordHash: hash,
		Roles:        in.Roles,
		ContactID:    contact.ID,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if isUniqueConstraintError(err) { // race after the initial check
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// Update patches roles and/or password by id; omitted fields are untouched.
func (s *UserService) Update(ctx context.Context, in UpdateUserInput) (UserListItem, error) {
	fields := map[string]any{}
	if in.Roles != nil {
		fields["roles"] = pq.StringArray(in.Roles)
	}
	if in.Password != "" {
		if len(in.Password) < 6 {
			return UserListItem{}, ErrPasswordPolicy
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return UserListItem{}, err
		}
		fields["password_hash"] = hash
	}
	if err := s.store.UpdateFields(ctx, in.ID, fields); err != nil {
		return UserListItem{}, err
	}
	return s.Get(ctx, in.ID)
}

func (s *UserService) Remove(ctx context.Context, id uint) error {
	return s.store.Delete(ctx, id)
}

func toListItem(u models.User) UserListItem {
	return UserListItem{
		ID:        u.ID,
		Username:  u.Username,
		Roles:     u.Roles,
		ContactID: u.ContactID,
		FullName:  u.Contact.FullName(),
		Avatar:    u.Contact.Avatar,
		Contact:   ContactRef{ID: u.ContactID, Name: u.Contact.FullName()},
	}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}
