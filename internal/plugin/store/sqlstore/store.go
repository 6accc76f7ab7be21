package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gigmarket/chat-service/internal/model"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UniqueViolation reports whether a driver error is a unique-constraint violation.
type UniqueViolation func(err error) bool

// Store implements registrystore.ChatStore on top of GORM. The same implementation
// serves every SQL dialect; dialect plugins supply the connection and the driver's
// unique-violation check.
type Store struct {
	db       *gorm.DB
	isUnique UniqueViolation
}

// New creates a Store over an open gorm connection.
func New(db *gorm.DB, isUnique UniqueViolation) *Store {
	return &Store{db: db, isUnique: isUnique}
}

// Migrate creates or updates every table used by the store.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("sqlstore: auto-migrate: %w", err)
	}
	return nil
}

var _ registrystore.ChatStore = (*Store)(nil)

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) uniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return s.isUnique != nil && s.isUnique(err)
}

func (s *Store) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

func (s *Store) UpsertUser(ctx context.Context, user model.User) error {
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "display_name", "updated_at"}),
	}).Create(&user).Error
}

func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Limit(1).Find(&users).Error; err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
	}
	return &users[0], nil
}

func (s *Store) GetUsers(ctx context.Context, userIDs []string) (map[string]model.User, error) {
	result := make(map[string]model.User, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}
