package models

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Media holds an uploaded binary payload together with its descriptive
// metadata. Content carries the raw bytes; the JSON encoder base64-encodes it
// on persistence, and the API layer renders it as a data URI before it leaves
// the service.
type Media struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Filename  string    `json:"filename"`
	MediaType string    `json:"mediaType"`
	Content   []byte    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
