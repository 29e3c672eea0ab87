package domain

import "time"

// Business - тенант. Корень изоляции данных.
type Business struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const DefaultBusinessName = "Default Business"

func (b *Business) TenantID() string {
	if b == nil {
		return ""
	}
	return b.ID
}
