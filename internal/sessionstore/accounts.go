package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// UserAccount is the web-tier login record (§4.2: "user-account CRUD (phone
// ↔ hashed password ↔ external userId) used only by the web tier").
type UserAccount struct {
	ID             string `gorm:"primaryKey"`
	ExternalUserID string `gorm:"uniqueIndex"`
	DisplayName    string
	PhoneNumber    string `gorm:"uniqueIndex"`
	PasswordHash   string
	CreatedAt      time.Time
}

// TableName pins the GORM model to the table the migrations create.
func (UserAccount) TableName() string { return "user_accounts" }

var ErrAccountNotFound = errors.New("sessionstore: user account not found")
var ErrAccountExists = errors.New("sessionstore: user account already exists")

// AccountStore is the GORM-backed half of the web tier's persistence: simple
// CRUD over a small table, where raw SQL (as used for the high-churn
// sessions table) would just add ceremony.
type AccountStore struct {
	db *gorm.DB
}

// NewAccountStore opens a GORM connection over dsn. AutoMigrate is
// deliberately not called here; schema ownership belongs to the migrations
// package shared with PostgresBacking.
func NewAccountStore(dsn string) (*AccountStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: opening account store: %w", err)
	}
	return &AccountStore{db: db}, nil
}

// NextExternalUserID draws the next id from user_external_id_seq, which
// starts at 9e9 so every self-service registration lands in the web-tier
// range model.TierForUserID recognizes.
func (s *AccountStore) NextExternalUserID(ctx context.Context) (string, error) {
	var id int64
	if err := s.db.WithContext(ctx).Raw("SELECT nextval('user_external_id_seq')").Scan(&id).Error; err != nil {
		return "", fmt.Errorf("sessionstore: drawing external user id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Create inserts a new account. externalUserID and phone must be unique.
func (s *AccountStore) Create(ctx context.Context, externalUserID, displayName, phone, passwordHash string) (*UserAccount, error) {
	acct := &UserAccount{
		ID:             uuid.New().String(),
		ExternalUserID: externalUserID,
		DisplayName:    displayName,
		PhoneNumber:    phone,
		PasswordHash:   passwordHash,
		CreatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(acct).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("sessionstore: creating account: %w", err)
	}
	return acct, nil
}

// GetByPhone looks up an account for login.
func (s *AccountStore) GetByPhone(ctx context.Context, phone string) (*UserAccount, error) {
	var acct UserAccount
	if err := s.db.WithContext(ctx).Where("phone_number = ?", phone).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("sessionstore: looking up account: %w", err)
	}
	return &acct, nil
}

// GetByExternalUserID looks up the account that owns a given session's userId.
func (s *AccountStore) GetByExternalUserID(ctx context.Context, externalUserID string) (*UserAccount, error) {
	var acct UserAccount
	if err := s.db.WithContext(ctx).Where("external_user_id = ?", externalUserID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("sessionstore: looking up account: %w", err)
	}
	return &acct, nil
}

// AccountPatch carries the optional fields an update may change. Unset
// fields are left untouched by the mergo.WithOverride merge, which copies
// only non-zero patch fields onto the stored account: the
// same last-write-wins-per-field semantics as model.Patch, just expressed
// over a struct instead of hand-rolled nil checks.
type AccountPatch struct {
	PhoneNumber  string
	PasswordHash string
}

// Update merges a non-zero-valued patch onto the stored account.
func (s *AccountStore) Update(ctx context.Context, externalUserID string, patch AccountPatch) error {
	acct, err := s.GetByExternalUserID(ctx, externalUserID)
	if err != nil {
		return err
	}

	merged := *acct
	if err := mergo.Merge(&merged, accountFromPatch(patch), mergo.WithOverride); err != nil {
		return fmt.Errorf("sessionstore: merging account patch: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&UserAccount{}).Where("external_user_id = ?", externalUserID).
		Updates(map[string]any{
			"phone_number":  merged.PhoneNumber,
			"password_hash": merged.PasswordHash,
		})
	if result.Error != nil {
		return fmt.Errorf("sessionstore: updating account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// accountFromPatch projects a sparse patch onto a throwaway UserAccount so
// mergo.WithOverride only clobbers the fields the patch set.
func accountFromPatch(p AccountPatch) UserAccount {
	return UserAccount{PhoneNumber: p.PhoneNumber, PasswordHash: p.PasswordHash}
}

func (s *AccountStore) Delete(ctx context.Context, externalUserID string) error {
	result := s.db.WithContext(ctx).Where("external_user_id = ?", externalUserID).Delete(&UserAccount{})
	if result.Error != nil {
		return fmt.Errorf("sessionstore: deleting account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
