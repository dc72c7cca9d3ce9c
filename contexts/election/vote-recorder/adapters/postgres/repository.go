package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"ballotbox/contexts/election/vote-recorder/domain/entities"
	domainerrors "ballotbox/contexts/election/vote-recorder/domain/errors"
	"ballotbox/contexts/election/vote-recorder/ports"
	"ballotbox/internal/shared/outbox"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the Durable Ledger. votes keeps the existing
// (electionID, machineID, voting) columns and adds a unique ballot_uuid so a
// redelivered ballot inserts nothing; vote_result_outbox holds the pending
// result written in the same transaction.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the ledger tables for development and tests.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&voteModel{}, &resultOutboxModel{})
}

func (r *Repository) RecordVote(ctx context.Context, vote entities.VoteRecord, notice entities.ResultNotice) (entities.Receipt, error) {
	row := voteModelFromEntity(vote)
	var receipt entities.Receipt

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		create := insertVote(tx, &row)
		if create.Error != nil {
			return create.Error
		}

		if create.RowsAffected > 0 {
			result := resultOutboxModelFromEntity(notice)
			if err := tx.Create(&result).Error; err != nil {
				return err
			}
			receipt.Inserted = true
			return nil
		}

		var existing voteModel
		if err := tx.Where("ballot_uuid = ?", row.BallotUUID).First(&existing).Error; err != nil {
			return err
		}
		if !existing.toEntity().SameBallot(vote) {
			return domainerrors.ErrLedgerConflict
		}
		var result resultOutboxModel
		err := tx.Select("status").Where("outbox_id = ?", row.BallotUUID).First(&result).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		receipt.ResultPublished = err == nil && result.Status == outbox.StatusPublished
		return nil
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrLedgerConflict) {
			return entities.Receipt{}, err
		}
		if isUniqueViolation(err) {
			return entities.Receipt{}, r.logError("ledger_record_vote_conflict", domainerrors.ErrLedgerConflict,
				"ballot_uuid", row.BallotUUID,
			)
		}
		return entities.Receipt{}, r.logError("ledger_record_vote_failed", err,
			"ballot_uuid", row.BallotUUID,
			"election_id", row.ElectionID,
			"undefined_table", isUndefinedTable(err),
		)
	}
	return receipt, nil
}

func (r *Repository) ListVotesByElection(ctx context.Context, electionID int64) ([]entities.VoteRecord, error) {
	var rows []voteModel
	if err := votesByElection(r.db.WithContext(ctx), electionID).Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_list_votes_failed", err, "election_id", electionID)
	}
	items := make([]entities.VoteRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) ListPendingResults(ctx context.Context, limit int) ([]entities.ResultNotice, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []resultOutboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outbox.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_list_pending_results_failed", err, "limit", limit)
	}
	items := make([]entities.ResultNotice, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) MarkResultPublished(ctx context.Context, ballotUUID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&resultOutboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(ballotUUID)).
		Updates(map[string]any{
			"status":       outbox.StatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("ledger_mark_result_published_failed", result.Error,
			"ballot_uuid", strings.TrimSpace(ballotUUID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrResultNotFound
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "election/vote-recorder",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("ledger repository operation failed", fields...)
	return err
}

func insertVote(tx *gorm.DB, row *voteModel) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ballot_uuid"}},
		DoNothing: true,
	}).Create(row)
}

func votesByElection(tx *gorm.DB, electionID int64) *gorm.DB {
	return tx.Where("electionid = ?", electionID).Order("id ASC")
}

// The votes DDL declares electionID and machineID unquoted, so Postgres folds them to lower case.
type voteModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ElectionID int64     `gorm:"column:electionid;index"`
	MachineID  int64     `gorm:"column:machineid"`
	Voting     int64     `gorm:"column:voting"`
	BallotUUID string    `gorm:"column:ballot_uuid;uniqueIndex"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
}

func (voteModel) TableName() string {
	return "votes"
}

func voteModelFromEntity(vote entities.VoteRecord) voteModel {
	return voteModel{
		ElectionID: vote.ElectionID,
		MachineID:  vote.MachineID,
		Voting:     vote.Choice,
		BallotUUID: strings.TrimSpace(vote.BallotUUID),
		RecordedAt: vote.RecordedAt.UTC(),
	}
}

func (m voteModel) toEntity() entities.VoteRecord {
	return entities.VoteRecord{
		ElectionID: m.ElectionID,
		MachineID:  m.MachineID,
		Choice:     m.Voting,
		BallotUUID: m.BallotUUID,
		RecordedAt: m.RecordedAt.UTC(),
	}
}

type resultOutboxModel struct {
	OutboxID    string     `gorm:"column:outbox_id;primaryKey"`
	MachineID   int64      `gorm:"column:machine_id"`
	Result      string     `gorm:"column:result"`
	Status      string     `gorm:"column:status;index"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	PublishedAt *time.Time `gorm:"column:published_at"`
}

func (resultOutboxModel) TableName() string {
	return "vote_result_outbox"
}

func resultOutboxModelFromEntity(notice entities.ResultNotice) resultOutboxModel {
	return resultOutboxModel{
		OutboxID:  strings.TrimSpace(notice.BallotUUID),
		MachineID: notice.MachineID,
		Result:    notice.Result,
		Status:    outbox.StatusPending,
		CreatedAt: notice.CreatedAt.UTC(),
	}
}

func (m resultOutboxModel) toEntity() entities.ResultNotice {
	return entities.ResultNotice{
		BallotUUID:  m.OutboxID,
		MachineID:   m.MachineID,
		Result:      m.Result,
		CreatedAt:   m.CreatedAt.UTC(),
		PublishedAt: m.PublishedAt,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

var (
	_ ports.Ledger       = (*Repository)(nil)
	_ ports.ResultOutbox = (*Repository)(nil)
)
