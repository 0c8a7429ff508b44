package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/semquery/semquery/internal/semantic/registry"
)

func TestNextVersionStartsAtOne(t *testing.T) {
	db, mock := newSQLMock(t)
	cat := NewCatalog(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT COALESCE(MAX(version), 0) + 1
FROM model_version
WHERE model_name = $1`)).
		WithArgs("sales").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(1))

	next, err := cat.NextVersion(context.Background(), "sales")
	if err != nil {
		t.Fatalf("NextVersion() error = %v", err)
	}
	if next != 1 {
		t.Fatalf("next = %d, want 1", next)
	}
	assertSQLMock(t, mock)
}

func TestInsertVersionDeactivatesPrevious(t *testing.T) {
	db, mock := newSQLMock(t)
	cat := NewCatalog(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE model_version
SET active = FALSE
WHERE active`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO model_version (model_name, version, artifact_path, published_by, active)
VALUES ($1, $2, $3, $4, $5)
RETURNING published_at`)).
		WithArgs("sales", 2, "models/sales/v2.yaml", "ops@example.com", true).
		WillReturnRows(sqlmock.NewRows([]string{"published_at"}).AddRow(now))
	mock.ExpectCommit()

	v, err := cat.InsertVersion(context.Background(), registry.Version{
		ModelName:    "sales",
		Version:      2,
		ArtifactPath: "models/sales/v2.yaml",
		PublishedBy:  "ops@example.com",
		Active:       true,
	})
	if err != nil {
		t.Fatalf("InsertVersion() error = %v", err)
	}
	if !v.PublishedAt.Equal(now) {
		t.Fatalf("PublishedAt = %v, want %v", v.PublishedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestActiveVersionReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	cat := NewCatalog(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT model_name, version, artifact_path, published_by, published_at, active
FROM model_version
WHERE active`)).
		WillReturnError(sql.ErrNoRows)

	_, err := cat.ActiveVersion(context.Background())
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, registry.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestListVersionsNewestFirst(t *testing.T) {
	db, mock := newSQLMock(t)
	cat := NewCatalog(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT model_name, version, artifact_path, published_by, published_at, active
FROM model_version
WHERE $1 = '' OR model_name = $1
ORDER BY model_name ASC, version DESC`)).
		WithArgs("sales").
		WillReturnRows(sqlmock.NewRows([]string{"model_name", "version", "artifact_path", "published_by", "published_at", "active"}).
			AddRow("sales", 2, "models/sales/v2.yaml", "ops@example.com", now, true).
			AddRow("sales", 1, "models/sales/v1.yaml", "ops@example.com", now, false))

	versions, err := cat.ListVersions(context.Background(), "sales")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("len(versions) = %d, want 2", len(versions))
	}
	if versions[0].Version != 2 || !versions[0].Active {
		t.Fatalf("versions[0] = %+v, want active v2 first", versions[0])
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDeleteVersionRefusesActive(t *testing.T) {
	db, mock := newSQLMock(t)
	cat := NewCatalog(db)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM model_version
WHERE model_name = $1 AND version = $2 AND NOT active`)).
		WithArgs("sales", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := cat.DeleteVersion(context.Background(), "sales", 3)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestDeleteVersionRemovesInactiveRow(t *testing.T) {
	db, mock := newSQLMock(t)
	cat := NewCatalog(db)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM model_version
WHERE model_name = $1 AND version = $2 AND NOT active`)).
		WithArgs("sales", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := cat.DeleteVersion(context.Background(), "sales", 1); err != nil {
		t.Fatalf("DeleteVersion() error = %v", err)
	}
	assertSQLMock(t, mock)
}
