package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
)

func TestCreateAndGetUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, database, "testuser", "hash123", model.RolePatron)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Username != "testuser" {
		t.Errorf("expected username 'testuser', got %q", user.Username)
	}
	if user.Role != model.RolePatron {
		t.Errorf("expected role 'patron', got %q", user.Role)
	}

	got, err := GetUser(ctx, database, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "testuser" {
		t.Errorf("expected username 'testuser', got %q", got.Username)
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if _, err := CreateUser(ctx, database, "alice", "hash", model.RolePatron); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, err := CreateUser(ctx, database, "alice", "hash", model.RolePatron)
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate username, got %v", err)
	}
}

func TestGetUserByUsername(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateUser(ctx, database, "alice", "hash", model.RoleAdmin)

	user, err := GetUserByUsername(ctx, database, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.Username != "alice" {
		t.Errorf("expected 'alice', got %q", user.Username)
	}

	missing, err := GetUserByUsername(ctx, database, "bob")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing user")
	}
}

func TestListUsers(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateUser(ctx, database, "a", "hash", model.RolePatron)
	CreateUser(ctx, database, "b", "hash", model.RoleLibrarian)

	users, err := ListUsers(ctx, database)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %d", len(users))
	}
}

func TestUpdateUserRole(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, _ := CreateUser(ctx, database, "promote", "hash", model.RolePatron)
	if err := UpdateUserRole(ctx, database, user.ID, model.RoleLibrarian); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}

	got, _ := GetUser(ctx, database, user.ID)
	if got.Role != model.RoleLibrarian {
		t.Errorf("expected role librarian, got %q", got.Role)
	}

	if err := UpdateUserRole(ctx, database, 999, model.RolePatron); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing user, got %v", err)
	}
}

func TestSoftDeleteUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, _ := CreateUser(ctx, database, "deleteme", "hash", model.RolePatron)
	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := SoftDeleteUser(ctx, database, user.ID, at); err != nil {
		t.Fatalf("SoftDeleteUser: %v", err)
	}

	users, _ := ListUsers(ctx, database)
	if len(users) != 0 {
		t.Errorf("expected 0 users after delete, got %d", len(users))
	}

	got, _ := GetUser(ctx, database, user.ID)
	if got == nil || got.DeletedAt == nil || !got.DeletedAt.Equal(at) {
		t.Errorf("expected deleted_at %v, got %+v", at, got)
	}

	if err := SoftDeleteUser(ctx, database, user.ID, at); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}

	// The username is free again.
	if _, err := CreateUser(ctx, database, "deleteme", "hash", model.RolePatron); err != nil {
		t.Errorf("expected username reuse after delete, got %v", err)
	}
}

func TestLockUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, _ := CreateUser(ctx, database, "ana", "hash", model.RolePatron)
	if err := LockUser(ctx, database, user.ID); err != nil {
		t.Fatalf("LockUser: %v", err)
	}
	if err := LockUser(ctx, database, 999); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing user, got %v", err)
	}

	SoftDeleteUser(ctx, database, user.ID, time.Now())
	if err := LockUser(ctx, database, user.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a deleted user, got %v", err)
	}
}

func TestUpdateUserPassword(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, _ := CreateUser(ctx, database, "pwuser", "oldhash", model.RolePatron)
	UpdateUserPassword(ctx, database, user.ID, "newhash")

	got, _ := GetUser(ctx, database, user.ID)
	if got.PasswordHash != "newhash" {
		t.Errorf("expected password hash 'newhash', got %q", got.PasswordHash)
	}
}
