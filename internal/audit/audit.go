package audit

import "time"

// Meta is embedded by value in every persisted entity.
type Meta struct {
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func New(now time.Time) Meta {
	return Meta{CreatedAt: now, UpdatedAt: now}
}

func (m *Meta) Touch(now time.Time) { m.UpdatedAt = now }
