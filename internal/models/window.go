package models

import "time"

// OrderWindow says whether new orders may be created
type OrderWindow struct {
	Open      bool      `json:"open"`
	Override  bool      `json:"override,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
