package postgresadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ballotbox/contexts/election/dedup-gate/domain/entities"
	domainerrors "ballotbox/contexts/election/dedup-gate/domain/errors"
	"ballotbox/contexts/election/dedup-gate/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTableMissing means vote_dedup has not been provisioned; the gate cannot
// admit anything until it is (DEDUP_AUTO_MIGRATE=true creates it).
var ErrTableMissing = errors.New("dedup table vote_dedup does not exist")

// Repository stores dedup marks in vote_dedup. The primary key on dedup_key
// makes INSERT ... ON CONFLICT DO NOTHING the atomic reserve.
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

// Migrate creates vote_dedup for development and tests.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&dedupModel{})
}

func (r *Repository) Reserve(ctx context.Context, key entities.DedupKey, mark entities.Mark) (entities.Mark, bool, error) {
	row := dedupModel{
		DedupKey:      key.String(),
		CorrelationID: mark.CorrelationID,
		VoteTimestamp: mark.Timestamp,
		Forwarded:     mark.Forwarded,
		CreatedAt:     time.Now().UTC(),
	}
	create := reserveMark(r.db.WithContext(ctx), &row)
	if create.Error != nil {
		if isUndefinedTable(create.Error) {
			return entities.Mark{}, false, r.logError("dedup_repo_table_missing", fmt.Errorf("%w: %v", ErrTableMissing, create.Error), "key", row.DedupKey)
		}
		return entities.Mark{}, false, r.logError("dedup_repo_reserve_failed", create.Error, "key", row.DedupKey)
	}
	if create.RowsAffected > 0 {
		return mark, true, nil
	}

	var existing dedupModel
	if err := r.db.WithContext(ctx).
		Where("dedup_key = ?", row.DedupKey).
		First(&existing).Error; err != nil {
		return entities.Mark{}, false, r.logError("dedup_repo_reserve_load_existing_failed", err, "key", row.DedupKey)
	}
	return existing.toEntity(), false, nil
}

func (r *Repository) ConfirmForwarded(ctx context.Context, key entities.DedupKey, correlationID string) error {
	result := confirmMark(r.db.WithContext(ctx), key.String(), correlationID)
	if result.Error != nil {
		return r.logError("dedup_repo_confirm_failed", result.Error,
			"key", key.String(),
			"correlation_id", correlationID,
		)
	}
	if result.RowsAffected == 0 {
		var existing dedupModel
		err := r.db.WithContext(ctx).Where("dedup_key = ?", key.String()).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainerrors.ErrMarkNotFound
		}
		if err != nil {
			return r.logError("dedup_repo_confirm_load_failed", err, "key", key.String())
		}
		return domainerrors.ErrMarkOwnership
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "election/dedup-gate",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("dedup repository operation failed", fields...)
	return err
}

func reserveMark(tx *gorm.DB, row *dedupModel) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoNothing: true,
	}).Create(row)
}

// confirmMark only touches the row owned by correlationID.
func confirmMark(tx *gorm.DB, key string, correlationID string) *gorm.DB {
	return tx.Model(&dedupModel{}).
		Where("dedup_key = ? AND correlation_id = ?", key, correlationID).
		Update("forwarded", true)
}

type dedupModel struct {
	DedupKey      string    `gorm:"column:dedup_key;primaryKey"`
	CorrelationID string    `gorm:"column:correlation_id"`
	VoteTimestamp int64     `gorm:"column:vote_timestamp"`
	Forwarded     bool      `gorm:"column:forwarded"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (dedupModel) TableName() string {
	return "vote_dedup"
}

func (m dedupModel) toEntity() entities.Mark {
	return entities.Mark{
		Timestamp:     m.VoteTimestamp,
		CorrelationID: m.CorrelationID,
		Forwarded:     m.Forwarded,
	}
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

var _ ports.DedupStore = (*Repository)(nil)
