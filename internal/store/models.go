package store

import "time"

// User is a registered chat account. Password holds a bcrypt hash and is empty
// for accounts created through an OAuth provider.
type User struct {
	ID        uint    `gorm:"primaryKey"`
	Username  string  `gorm:"uniqueIndex;not null"`
	Password  string  `json:"-"`
	Email     *string `gorm:"uniqueIndex"`
	GithubID  *string `gorm:"uniqueIndex"`
	GoogleID  *string `gorm:"uniqueIndex"`
	Color     string  `gorm:"not null"`
	Status    string
	Mode      string `gorm:"default:online"`
	CreatedAt time.Time
}

// Channel is a named room. Names are unique.
type Channel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

// Membership is the persisted relation between a user and a channel.
type Membership struct {
	UserID    uint    `gorm:"primaryKey"`
	ChannelID uint    `gorm:"primaryKey"`
	User      User    `gorm:"constraint:OnDelete:CASCADE"`
	Channel   Channel `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
}

// Message is a chat line. CreatedAt is assigned when the row is inserted.
type Message struct {
	ID        uint    `gorm:"primaryKey"`
	Data      string  `gorm:"not null"`
	UserID    uint    `gorm:"index;not null"`
	ChannelID uint    `gorm:"index;not null"`
	User      User    `gorm:"constraint:OnDelete:CASCADE"`
	Channel   Channel `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&User{}, &Channel{}, &Membership{}, &Message{}}
}
