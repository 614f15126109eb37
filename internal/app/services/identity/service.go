// Package identity manages user accounts and issues the bearer tokens the
// auth middleware validates.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/internal/errors"
	"github.com/openshelf/library-service/internal/logging"
)

// Service manages user records and credentials.
type Service struct {
	users     storage.UserStore
	jwtSecret []byte
	tokenTTL  time.Duration
	log       *logging.Logger
}

// New constructs an identity service. secret signs issued tokens; ttl is
// their lifetime.
func New(users storage.UserStore, secret string, ttl time.Duration, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("identity")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{users: users, jwtSecret: []byte(secret), tokenTTL: ttl, log: log}
}

// Register creates a user with a hashed password. An empty role defaults
// to member.
func (s *Service) Register(ctx context.Context, username, password string, role user.Role) (user.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return user.User{}, errors.BadRequest("username is required")
	}
	if len(password) < 6 {
		return user.User{}, errors.BadRequest("password must be at least 6 characters")
	}
	if role == "" {
		role = user.RoleMember
	}
	if !role.Valid() {
		return user.User{}, errors.BadRequest("unknown role")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, errors.Internal("hash password", err)
	}

	created, err := s.users.CreateUser(ctx, user.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", created.ID).WithField("username", created.Username).Info("user registered")
	return created, nil
}

// Login verifies credentials and returns the user with a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (user.User, string, error) {
	u, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.IsNotFound(err) {
			return user.User{}, "", errors.Unauthorized("invalid credentials")
		}
		return user.User{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return user.User{}, "", errors.Unauthorized("invalid credentials")
	}

	token, err := s.issueToken(u)
	if err != nil {
		return user.User{}, "", errors.Internal("sign token", err)
	}
	s.log.WithField("user_id", u.ID).Info("user logged in")
	return u, token, nil
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.users.GetUser(ctx, id)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.users.ListUsers(ctx)
}

// Update changes a user's username, password or role. Empty fields keep
// their current value.
func (s *Service) Update(ctx context.Context, id, username, password string, role user.Role) (user.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if username = strings.TrimSpace(username); username != "" {
		u.Username = username
	}
	if password != "" {
		if len(password) < 6 {
			return user.User{}, errors.BadRequest("password must be at least 6 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return user.User{}, errors.Internal("hash password", err)
		}
		u.PasswordHash = string(hash)
	}
	if role != "" {
		if !role.Valid() {
			return user.User{}, errors.BadRequest("unknown role")
		}
		u.Role = role
	}

	return s.users.UpdateUser(ctx, u)
}

// Delete removes a user. Users with loan records cannot be removed; the
// ledger keeps every loan and each one references its borrower.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.users.DeleteUser(ctx, id)
}

func (s *Service) issueToken(u user.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  u.ID,
		"username": u.Username,
		"role":     string(u.Role),
		"iat":      jwt.NewNumericDate(now),
		"exp":      jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}
