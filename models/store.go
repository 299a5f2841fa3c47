package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store is the gorm-backed persistence layer for projects, runs, balances and
// generation records.
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL through a native pool and wraps it with gorm.
func Open(dsn string) (*Store, error) {
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("init gorm: %w", err)
	}
	return NewStore(gdb), nil
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates every table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Project{},
		&Character{},
		&Scene{},
		&Run{},
		&Account{},
		&LedgerEntry{},
		&GenerationRecord{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Project CRUD

func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	for i := range p.Characters {
		p.Characters[i].ProjectID = p.ID
		if p.Characters[i].StyleStatus == "" {
			p.Characters[i].StyleStatus = StyleStatusIdle
		}
	}
	for i := range p.Scenes {
		p.Scenes[i].ProjectID = p.ID
		if p.Scenes[i].Status == "" {
			p.Scenes[i].Status = SceneStatusPending
		}
	}
	if p.Status == "" {
		p.Status = ProjectStatusCreated
	}
	return s.db.WithContext(ctx).Create(p).Error
}

// GetProject loads a project with its characters and scenes in position order.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).
		Preload("Characters", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Scenes", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&p, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) UpdateProjectStatus(ctx context.Context, id, status string) error {
	return s.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Update("status", status).Error
}

func (s *Store) SaveCharacter(ctx context.Context, c *Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(c).Error
}

func (s *Store) SaveScene(ctx context.Context, sc *Scene) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(sc).Error
}

// Run CRUD

func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	if r.Status == "" {
		r.Status = RunStatusPending
	}
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// MarkRunStarted moves a pending run to processing. started is false when the
// run was no longer pending, for example because it was cancelled meanwhile.
func (s *Store) MarkRunStarted(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&Run{}).
		Where("id = ? AND status = ?", id, RunStatusPending).
		Updates(map[string]interface{}{
			"status":     RunStatusProcessing,
			"started_at": &now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateRunProgress writes the latest progress snapshot. Terminal runs are left alone.
func (s *Store) UpdateRunProgress(ctx context.Context, id, stage string, currentScene, totalScenes int, percentage float64) error {
	return s.db.WithContext(ctx).Model(&Run{}).
		Where("id = ? AND status IN ?", id, []string{RunStatusPending, RunStatusProcessing}).
		Updates(map[string]interface{}{
			"stage":         stage,
			"current_scene": currentScene,
			"total_scenes":  totalScenes,
			"percentage":    percentage,
		}).Error
}

// FinishRun records the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, id, status, stage, errMsg string, result RunResult) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      status,
		"stage":       stage,
		"error":       errMsg,
		"result":      result,
		"finished_at": &now,
	}).Error
}

// Balance and ledger

// GetBalance returns the user's balance. A user without an account has zero.
func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	var a Account
	err := s.db.WithContext(ctx).First(&a, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// Credit adds amount to the user's balance, creating the account if needed.
func (s *Store) Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct := Account{UserID: userID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct).Error; err != nil {
			return err
		}
		if err := tx.Model(&Account{}).Where("user_id = ?", userID).
			Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
			return err
		}
		if err := tx.First(&acct, "user_id = ?", userID).Error; err != nil {
			return err
		}
		balance = acct.Balance
		return tx.Create(&LedgerEntry{
			UserID:        userID,
			OperationKind: reason,
			Amount:        amount,
			BalanceAfter:  balance,
		}).Error
	})
	return balance, err
}

// Debit atomically subtracts amount if the balance covers it. ok is false,
// with no error, when the balance is insufficient; nothing is written then.
func (s *Store) Debit(ctx context.Context, userID, runID string, amount int64, reason string) (int64, bool, error) {
	if amount < 0 {
		return 0, false, fmt.Errorf("debit amount must not be negative, got %d", amount)
	}
	if amount == 0 {
		// Free operations need no account row.
		current, err := s.GetBalance(ctx, userID)
		if err != nil {
			return 0, false, err
		}
		return current, true, nil
	}
	var (
		balance int64
		ok      bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Account{}).
			Where("user_id = ? AND balance >= ?", userID, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		var acct Account
		if err := tx.First(&acct, "user_id = ?", userID).Error; err != nil {
			return err
		}
		balance = acct.Balance
		ok = true
		return tx.Create(&LedgerEntry{
			UserID:        userID,
			RunID:         runID,
			OperationKind: reason,
			Amount:        -amount,
			BalanceAfter:  balance,
		}).Error
	})
	if err != nil {
		return 0, false, err
	}
	if !ok {
		current, err := s.GetBalance(ctx, userID)
		if err != nil {
			return 0, false, err
		}
		return current, false, nil
	}
	return balance, true, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, userID string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&entries).Error
	return entries, err
}

// Generation records

func (s *Store) SaveGenerationRecord(ctx context.Context, rec *GenerationRecord) (string, error) {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *Store) GetGenerationRecord(ctx context.Context, id string) (*GenerationRecord, error) {
	var rec GenerationRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// RenameGenerationRecord changes the display name, the only mutable field.
// MySQL reports zero affected rows when the name is unchanged, so existence is
// checked separately.
func (s *Store) RenameGenerationRecord(ctx context.Context, id, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&GenerationRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return tx.Model(&GenerationRecord{}).Where("id = ?", id).Update("name", name).Error
	})
}
