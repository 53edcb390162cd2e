// Package store is the RoomChat datastore: users, channels, channel
// memberships and messages kept in sqlite through gorm.
//
// GormStore talks to the database directly. Resilient wraps any Store with a
// per-call timeout and a circuit breaker and is what the rest of the process
// is handed.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the CRUD surface used by the chat core and the auth handlers.
type Store interface {
	FindUserByID(ctx context.Context, id uint) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	SaveUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id uint) error

	FindChannel(ctx context.Context, name string) (*Channel, error)
	CreateChannel(ctx context.Context, name string) (*Channel, error)
	ChannelNamesOf(ctx context.Context, userID uint) ([]string, error)
	IsMember(ctx context.Context, userID, channelID uint) (bool, error)
	AddMember(ctx context.Context, userID, channelID uint) error
	RemoveMember(ctx context.Context, userID, channelID uint) error

	SaveMessage(ctx context.Context, msg *Message) error
}

// GormStore implements Store on a gorm connection.
type GormStore struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path, enables foreign keys and
// migrates the schema. ":memory:" opens a private in-memory database.
func Open(path string) (*GormStore, error) {
	dsn := path + "?_foreign_keys=1"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gorm: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm: underlying sql.DB: %w", err)
	}
	// sqlite allows a single writer; one connection also keeps ":memory:" a single database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("gorm: migrate: %w", err)
	}
	return NewGormStore(db), nil
}

// NewGormStore wraps an already migrated gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	if db == nil {
		panic("database connection cannot be nil for GormStore")
	}
	return &GormStore{db: db}
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FindUserByID loads a user by primary key.
func (s *GormStore) FindUserByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err, "find user %d", id)
	}
	return &user, nil
}

// FindUserByUsername loads a user by exact username.
func (s *GormStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err, "find user %q", username)
	}
	return &user, nil
}

// CreateUser inserts a new user; a taken username or e-mail yields ErrDuplicate.
func (s *GormStore) CreateUser(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return translate(err, "create user %q", user.Username)
	}
	return nil
}

// SaveUser updates every column of an existing user.
func (s *GormStore) SaveUser(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return translate(err, "save user %d", user.ID)
	}
	return nil
}

// DeleteUser removes a user with their memberships and messages.
func (s *GormStore) DeleteUser(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&Membership{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&User{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return translate(err, "delete user %d", id)
	}
	return nil
}

// FindChannel loads a channel by case-sensitive exact name.
func (s *GormStore) FindChannel(ctx context.Context, name string) (*Channel, error) {
	var channel Channel
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&channel).Error; err != nil {
		return nil, translate(err, "find channel %q", name)
	}
	return &channel, nil
}

// CreateChannel inserts a channel. If the name exists the error is ErrDuplicateRoom.
func (s *GormStore) CreateChannel(ctx context.Context, name string) (*Channel, error) {
	channel := &Channel{Name: name}
	if err := s.db.WithContext(ctx).Create(channel).Error; err != nil {
		err = translate(err, "create channel %q", name)
		if errors.Is(err, ErrDuplicate) {
			return nil, fmt.Errorf("create channel %q: %w", name, ErrDuplicateRoom)
		}
		return nil, err
	}
	return channel, nil
}

// ChannelNamesOf returns the names of the channels a user belongs to, oldest membership first.
func (s *GormStore) ChannelNamesOf(ctx context.Context, userID uint) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&Channel{}).
		Joins("JOIN memberships ON memberships.channel_id = channels.id").
		Where("memberships.user_id = ?", userID).
		Order("memberships.created_at, channels.id").
		Pluck("channels.name", &names).Error
	if err != nil {
		return nil, translate(err, "channels of user %d", userID)
	}
	return names, nil
}

// IsMember reports whether the membership row exists.
func (s *GormStore) IsMember(ctx context.Context, userID, channelID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Where("user_id = ? AND channel_id = ?", userID, channelID).
		Count(&count).Error
	if err != nil {
		return false, translate(err, "membership %d/%d", userID, channelID)
	}
	return count > 0, nil
}

// AddMember inserts the membership row; an existing row is left untouched.
func (s *GormStore) AddMember(ctx context.Context, userID, channelID uint) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit(clause.Associations).
		Create(&Membership{UserID: userID, ChannelID: channelID}).Error
	if err != nil {
		return translate(err, "add member %d to channel %d", userID, channelID)
	}
	return nil
}

// RemoveMember deletes the membership row if present.
func (s *GormStore) RemoveMember(ctx context.Context, userID, channelID uint) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND channel_id = ?", userID, channelID).
		Delete(&Membership{}).Error
	if err != nil {
		return translate(err, "remove member %d from channel %d", userID, channelID)
	}
	return nil
}

// SaveMessage inserts msg after checking that its author and channel still
// exist. msg.ID and msg.CreatedAt are filled in on success.
func (s *GormStore) SaveMessage(ctx context.Context, msg *Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("id = ?", msg.UserID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("author %d: %w", msg.UserID, ErrNotFound)
		}
		if err := tx.Model(&Channel{}).Where("id = ?", msg.ChannelID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("channel %d: %w", msg.ChannelID, ErrNotFound)
		}
		return tx.Omit(clause.Associations).Create(msg).Error
	})
	if err != nil {
		return translate(err, "save message")
	}
	return nil
}

// translate maps gorm and driver errors onto the package sentinels.
func translate(err error, format string, args ...any) error {
	op := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate):
		return fmt.Errorf("gorm: %s: %w", op, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("gorm: %s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("gorm: %s: %w", op, ErrDuplicate)
	case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return fmt.Errorf("gorm: %s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("gorm: %s: %w", op, err)
	}
}
