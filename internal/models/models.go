package models

import (
	"time"
)

// PlaceholderImage is used when a sweet has no uploaded image and as the
// fallback thumbnail for purchases whose sweet was deleted later.
const PlaceholderImage = "https://static.sweetshop.dev/images/placeholder.png"

type Sweet struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"not null"                 json:"name"`
	Description string    `gorm:"not null"                 json:"description"`
	Category    string    `gorm:"not null;index"           json:"category"`
	Price       float64   `gorm:"not null"                 json:"price"`
	Stock       uint      `gorm:"not null;default:0"       json:"stock"`
	Image       string    `gorm:"not null"                 json:"image"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Purchase is an append-only ledger row. Price is the unit price captured
// at purchase time; it never changes when the catalog price does. SweetID
// may point at a sweet that was deleted later, consumers resolve that to
// a placeholder snapshot.
type Purchase struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"  json:"id"`
	SweetID   uint      `gorm:"index;not null"            json:"sweet_id"`
	BuyerID   uint      `gorm:"index;not null"            json:"buyer_id"`
	Price     float64   `gorm:"not null"                  json:"price"`
	Quantity  uint      `gorm:"not null;check:quantity>0" json:"quantity"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"orderDate"`
}

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"not null"                 json:"name"`
	Email        string    `gorm:"unique;not null"          json:"email"`
	PasswordHash string    `gorm:"not null"                 json:"-"`
	IsAdmin      bool      `gorm:"not null;default:false"   json:"isAdmin"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
