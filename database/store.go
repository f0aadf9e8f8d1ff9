package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vsnbridge/config"
	"vsnbridge/types"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database and migrates the schema.
func Open(cfg *config.Configuration) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Database.URL)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Database.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("cannot migrate database: %w", err)
	}
	return db, nil
}

// Store keeps transfer records and their submitted transactions in a SQL
// database.
type Store struct {
	db     *gorm.DB
	logger *logrus.Entry
}

func NewStore(db *gorm.DB, logger *logrus.Entry) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) CreateTransfer(ctx context.Context, rec *types.TransferRecord) error {
	if rec == nil {
		return errors.New("null object to store")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation := SenderNonce{
			SourceBlockchain: uint8(rec.SourceBlockchain),
			SenderAddress:    strings.ToLower(rec.SenderAddress),
			Nonce:            nonceString(rec.Nonce),
			TransferID:       rec.ID,
		}
		var existing int64
		if err := tx.Model(&SenderNonce{}).
			Where("source_blockchain = ? AND sender_address = ? AND nonce = ?", reservation.SourceBlockchain, reservation.SenderAddress, reservation.Nonce).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return types.ErrSenderNonceNotUnique
		}
		if err := tx.Create(&reservation).Error; err != nil {
			return err
		}
		return tx.Create(fromRecord(rec)).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return types.ErrSenderNonceNotUnique
	}
	return err
}

func (s *Store) FindTransfer(ctx context.Context, id uuid.UUID) (*types.TransferRecord, error) {
	var row Transfer
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrTransferNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record()
}

const maxUpdateRetries = 5

// UpdateTransfer applies upd if the status transition is allowed. The row is
// only written while it still has the status the check was made against.
func (s *Store) UpdateTransfer(ctx context.Context, id uuid.UUID, upd types.TransferUpdate) (*types.TransferRecord, error) {
	for i := 0; i < maxUpdateRetries; i++ {
		var updated *types.TransferRecord
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var row Transfer
			if err := tx.First(&row, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return types.ErrTransferNotFound
				}
				return err
			}
			rec, err := row.record()
			if err != nil {
				return err
			}
			if !rec.Status.CanTransitionTo(upd.Status) {
				return fmt.Errorf("%w: %s to %s", types.ErrStatusRegression, rec.Status, upd.Status)
			}
			previous := rec.Status
			upd.Apply(rec, time.Now().UTC())

			res := tx.Model(&Transfer{}).
				Where("id = ? AND status = ?", id, string(previous)).
				Updates(map[string]interface{}{
					"status":               string(rec.Status),
					"transaction_id":       rec.TransactionID,
					"on_chain_transfer_id": rec.OnChainTransferID,
					"submitted_at":         rec.SubmittedAt,
					"updated_at":           rec.UpdatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errConcurrentUpdate
			}
			if upd.Status.ReleasesNonce() {
				if err := tx.Where("transfer_id = ?", id).Delete(&SenderNonce{}).Error; err != nil {
					return err
				}
			}
			updated = rec
			return nil
		})
		if errors.Is(err, errConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("transfer %s: too many concurrent updates", id)
}

var errConcurrentUpdate = errors.New("concurrent update")

func (s *Store) AddSubmission(ctx context.Context, sub types.TransactionSubmission) error {
	row := Submission{
		InternalTransactionID: sub.InternalTransactionID,
		TransactionID:         sub.TransactionID,
		RawTransaction:        sub.RawTransaction,
		AccountNonce:          sub.AccountNonce,
		SubmittedAt:           sub.SubmittedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Errorf("Error storing submission %s: %s", sub.TransactionID, err.Error())
		return err
	}
	return nil
}

func (s *Store) Submissions(ctx context.Context, id uuid.UUID) ([]types.TransactionSubmission, error) {
	var rows []Submission
	if err := s.db.WithContext(ctx).Where("internal_transaction_id = ?", id).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	subs := make([]types.TransactionSubmission, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, types.TransactionSubmission{
			InternalTransactionID: row.InternalTransactionID,
			TransactionID:         row.TransactionID,
			RawTransaction:        row.RawTransaction,
			AccountNonce:          row.AccountNonce,
			SubmittedAt:           row.SubmittedAt,
		})
	}
	return subs, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// IsSenderNonceActive reports whether a transfer that has not failed holds
// the sender nonce.
func (s *Store) IsSenderNonceActive(ctx context.Context, blockchain types.Blockchain, sender string, nonce uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SenderNonce{}).
		Where("source_blockchain = ? AND sender_address = ? AND nonce = ?", uint8(blockchain), strings.ToLower(sender), nonceString(nonce)).
		Count(&count).Error
	return count > 0, err
}
