package models

import (
	"fmt"
	"time"
)

// Business is a tenant. Every business-owned row carries its ID and all
// serving-path queries filter by it.
type Business struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"` // globally unique
	Code      string    `json:"code"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBusiness creates an active business.
func NewBusiness(id, name, code string) *Business {
	now := time.Now().UTC()
	return &Business{
		ID:        id,
		Name:      name,
		Code:      code,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks structural invariants before persistence.
func (b *Business) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("business ID is required")
	}
	if b.Name == "" {
		return fmt.Errorf("business name is required")
	}
	return nil
}
