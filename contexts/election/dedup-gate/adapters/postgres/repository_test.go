package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ballotbox/contexts/election/dedup-gate/domain/entities"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 user=admin dbname=election sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	return db
}

func TestReserveIsConditionalInsert(t *testing.T) {
	db := dryRunDB(t)
	row := dedupModel{DedupKey: "7,1", CorrelationID: "u1", VoteTimestamp: 100}

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB { return reserveMark(tx, &row) })
	if !strings.HasPrefix(sql, `INSERT INTO "vote_dedup" ("dedup_key","correlation_id","vote_timestamp","forwarded","created_at")`) {
		t.Fatalf("unexpected insert %s", sql)
	}
	if !strings.Contains(sql, `ON CONFLICT ("dedup_key") DO NOTHING`) {
		t.Fatalf("reserve must not overwrite an existing mark: %s", sql)
	}
}

func TestConfirmOnlyTouchesOwnedMark(t *testing.T) {
	db := dryRunDB(t)
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB { return confirmMark(tx, "7,1", "u1") })
	if !strings.HasPrefix(sql, `UPDATE "vote_dedup" SET "forwarded"=true`) {
		t.Fatalf("unexpected update %s", sql)
	}
	if !strings.Contains(sql, `WHERE dedup_key = '7,1' AND correlation_id = 'u1'`) {
		t.Fatalf("confirm must be scoped to the owning ballot: %s", sql)
	}
}

func TestReserveReportsMissingTable(t *testing.T) {
	db := dryRunDB(t)
	err := db.Callback().Create().Before("gorm:create").Register("undefined_table", func(tx *gorm.DB) {
		_ = tx.AddError(&pgconn.PgError{Code: "42P01", Message: `relation "vote_dedup" does not exist`})
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	repo := NewRepository(db, nil)
	_, _, err = repo.Reserve(context.Background(), entities.DedupKey{VoterID: 7, ElectionID: 1}, entities.Mark{CorrelationID: "u1"})
	if !errors.Is(err, ErrTableMissing) {
		t.Fatalf("expected missing table error, got %v", err)
	}
}
