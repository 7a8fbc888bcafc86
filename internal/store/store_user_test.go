package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestCreateUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1,$2,$3,NOW())`)
	mock.ExpectExec(query).
		WithArgs(sqlmock.AnyArg(), "a@example.com", "hash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := st.CreateUser(context.Background(), "a@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated user id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1,$2,$3,NOW())`)
	mock.ExpectExec(query).
		WithArgs(sqlmock.AnyArg(), "a@example.com", "hash").
		WillReturnError(&pq.Error{Code: "23505"})

	if _, err := st.CreateUser(context.Background(), "a@example.com", "hash"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestGetUserByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	created := time.Now()
	query := regexp.QuoteMeta(`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`)
	mock.ExpectQuery(query).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow("user-1", "a@example.com", "hash", created))

	u, err := st.GetUserByEmail(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if u.ID != "user-1" || u.PasswordHash != "hash" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestGetUserByEmailNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`)
	mock.ExpectQuery(query).
		WithArgs("missing@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}))

	if _, err := st.GetUserByEmail(context.Background(), "missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
