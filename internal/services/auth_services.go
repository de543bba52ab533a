package services

import (
	"context"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/mohsenfayyazi/billder/internal/model"
)

const (
	MinPasswordLen = 8
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

type AuthService struct {
	Users UserStore
}

func NewAuthService(us UserStore) *AuthService {
	return &AuthService{Users: us}
}

func (s *AuthService) validateEmail(email string) error {
	if email == "" {
		return validationErrorf("email is required")
	}
	if !emailRegex.MatchString(email) {
		return validationErrorf("invalid email format")
	}
	return nil
}

func (s *AuthService) validatePassword(pw string) error {
	if len(pw) < MinPasswordLen {
		return validationErrorf("password too short: must be at least %d characters", MinPasswordLen)
	}
	return nil
}

// Register creates an account with one of the closed roles.
func (s *AuthService) Register(ctx context.Context, email, password, firstName, lastName string, role model.Role) (int64, error) {
	if err := s.validateEmail(email); err != nil {
		return 0, err
	}
	if err := s.validatePassword(password); err != nil {
		return 0, err
	}
	if !role.Valid() {
		return 0, validationErrorf("role must be %q or %q", model.RoleBusinessOwner, model.RoleCustomer)
	}
	exists, err := s.Users.EmailExists(ctx, email)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, validationErrorf("email already registered")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	return s.Users.Create(ctx, &model.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		FirstName:    firstName,
		LastName:     lastName,
	})
}

// Login authenticates using email + password and returns the user (without
// the password hash).
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	// do not reveal whether the email exists
	if u == nil {
		return nil, fmt.Errorf("%w: invalid credentials", ErrPermissionDenied)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", ErrPermissionDenied)
	}
	u.PasswordHash = ""
	return u, nil
}
