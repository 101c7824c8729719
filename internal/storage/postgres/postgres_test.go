package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/RolldeoDev/rolldeo-go/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres")), mock
}

func TestPutUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("d1", "Doc", "ns.doc", "1.0.0", []byte("{}"), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := s.Put(context.Background(), storage.Record{
		ID: "d1", Name: "Doc", Namespace: "ns.doc", Version: "1.0.0", Raw: []byte("{}"),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.UpdatedAt.IsZero() || rec.CreatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetFound(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "namespace", "version", "raw", "created_at", "updated_at"}).
		AddRow("d1", "Doc", "ns.doc", "1.0.0", []byte("{}"), now, now)
	mock.ExpectQuery("SELECT id, name, namespace, version, raw, created_at, updated_at FROM documents WHERE").
		WithArgs("d1").
		WillReturnRows(rows)

	rec, err := s.Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Name != "Doc" || string(rec.Raw) != "{}" {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestGetMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name, namespace, version, raw, created_at, updated_at FROM documents WHERE").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.Get(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestList(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "namespace", "version", "raw", "created_at", "updated_at"}).
		AddRow("a", "A", "ns.a", "1.0.0", []byte("{}"), now, now).
		AddRow("b", "B", "ns.b", "1.0.0", []byte("{}"), now, now)
	mock.ExpectQuery("SELECT id, name, namespace, version, raw, created_at, updated_at FROM documents ORDER BY id").
		WillReturnRows(rows)

	recs, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "a" {
		t.Fatalf("recs = %+v", recs)
	}
}

func TestDeleteMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM documents WHERE").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Delete(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM documents WHERE").
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Delete(context.Background(), "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
