package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/storage/memory"
	"github.com/openshelf/library-service/internal/errors"
)

const testSecret = "test-secret"

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, testSecret, time.Hour, nil), store
}

func TestRegisterDefaultsToMember(t *testing.T) {
	svc, _ := newService(t)

	u, err := svc.Register(context.Background(), "alice", "secret1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Role != user.RoleMember {
		t.Fatalf("expected member role, got %s", u.Role)
	}
	if u.PasswordHash == "secret1" || u.PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "", "secret1", ""); !errors.IsCode(err, errors.CodeBadRequest) {
		t.Fatalf("expected BadRequest for empty username, got %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "short", ""); !errors.IsCode(err, errors.CodeBadRequest) {
		t.Fatalf("expected BadRequest for short password, got %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "secret1", "owner"); !errors.IsCode(err, errors.CodeBadRequest) {
		t.Fatalf("expected BadRequest for unknown role, got %v", err)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "secret1", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "secret2", ""); !errors.IsCode(err, errors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "secret1", user.RoleAdmin)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	u, token, err := svc.Login(ctx, "alice", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.ID != registered.ID {
		t.Fatalf("expected user %s, got %s", registered.ID, u.ID)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token must verify against the signing secret: %v", err)
	}
	if claims["user_id"] != registered.ID {
		t.Fatalf("expected user_id claim %s, got %v", registered.ID, claims["user_id"])
	}
	if claims["role"] != string(user.RoleAdmin) {
		t.Fatalf("expected role claim admin, got %v", claims["role"])
	}
}

func TestLoginBadCredentials(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "secret1", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice", "wrong"); !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized for wrong password, got %v", err)
	}
	// Unknown usernames get the same answer as wrong passwords.
	if _, _, err := svc.Login(ctx, "nobody", "secret1"); !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized for unknown user, got %v", err)
	}
}

func TestUpdateKeepsUnsetFields(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "secret1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	updated, err := svc.Update(ctx, u.ID, "", "", user.RoleAdmin)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Username != "alice" {
		t.Fatalf("username must be unchanged, got %s", updated.Username)
	}
	if updated.Role != user.RoleAdmin {
		t.Fatalf("expected admin role, got %s", updated.Role)
	}

	// The old password still works after a role-only update.
	if _, _, err := svc.Login(ctx, "alice", "secret1"); err != nil {
		t.Fatalf("login after update: %v", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "secret1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Update(ctx, u.ID, "", "newsecret", ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice", "secret1"); !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice", "newsecret"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "secret1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Delete(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, u.ID); !errors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
