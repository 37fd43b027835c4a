package user

import (
	"context"
	"errors"
	"testing"

	"go-dm/internal/apperr"
	"go-dm/internal/db"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	d, err := db.NewDatabase(db.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(NewRepository(d), "test-secret")
}

func TestRegisterLoginValidate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	reg, err := s.Register(ctx, &RegisterRequest{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.ID == 0 || reg.Username != "alice" {
		t.Fatalf("Register = %+v", reg)
	}

	res, err := s.Login(ctx, &RegisterRequest{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	id, name, err := s.ValidateToken(res.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id != reg.ID || name != "alice" {
		t.Errorf("ValidateToken = (%d, %q), want (%d, alice)", id, name, reg.ID)
	}

	other := NewService(s.repo, "different-secret")
	if _, _, err := other.ValidateToken(res.AccessToken); err == nil {
		t.Error("token signed with another secret should not validate")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	if _, err := s.Register(ctx, &RegisterRequest{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := s.Register(ctx, &RegisterRequest{Username: "bob", Password: "pw2"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestService(t)
	_, err := s.Register(context.Background(), &RegisterRequest{Username: "  ", Password: "pw"})
	if !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestLoginFailuresAreUnauthorized(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	if _, err := s.Register(ctx, &RegisterRequest{Username: "carol", Password: "pw"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for _, req := range []*RegisterRequest{
		{Username: "carol", Password: "wrong"},
		{Username: "nobody", Password: "pw"},
	} {
		if _, err := s.Login(ctx, req); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("Login(%s) err = %v, want ErrUnauthorized", req.Username, err)
		}
	}
}

func TestDirectoryQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	ids := map[string]int{}
	for _, name := range []string{"dave", "Daisy", "erin"} {
		res, err := s.Register(ctx, &RegisterRequest{Username: name, Password: "pw"})
		if err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
		ids[name] = res.ID
	}

	users, err := s.ListUsers(ctx, ids["dave"])
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("ListUsers = %v, want 2 users", users)
	}
	for _, u := range users {
		if u.ID == ids["dave"] {
			t.Error("ListUsers returned the caller")
		}
	}

	found, err := s.SearchUsers(ctx, "DA")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("SearchUsers(DA) = %v, want Daisy and dave", found)
	}

	ok, err := s.repo.Exists(ctx, ids["erin"])
	if err != nil || !ok {
		t.Errorf("Exists(erin) = %v, %v", ok, err)
	}
	ok, err = s.repo.Exists(ctx, 9999)
	if err != nil || ok {
		t.Errorf("Exists(9999) = %v, %v", ok, err)
	}

	names, err := s.repo.Usernames(ctx, []int{ids["erin"], 9999})
	if err != nil {
		t.Fatalf("Usernames: %v", err)
	}
	if len(names) != 1 || names[ids["erin"]] != "erin" {
		t.Errorf("Usernames = %v", names)
	}
}
