package models

import (
	"fmt"
	"time"
)

// Character style states.
const (
	StyleStatusIdle      = "idle"
	StyleStatusUploading = "uploading"
	StyleStatusStyling   = "styling"
	StyleStatusDone      = "done"
	StyleStatusError     = "error"
)

// Character is one user-supplied person or pet that scenes can reference.
// SourceImageRef is where the original photo can be fetched from (a data URL
// or an http(s) URL); UploadedURL and StyledURL are durable copies.
type Character struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID      string    `gorm:"type:varchar(64);index" json:"projectId"`
	Position       int       `json:"position"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	SourceImageRef string    `gorm:"type:text" json:"sourceImageRef"`
	UploadedURL    string    `gorm:"type:text" json:"uploadedUrl,omitempty"`
	StyledURL      string    `gorm:"type:text" json:"styledUrl,omitempty"`
	StyleStatus    string    `gorm:"type:varchar(16)" json:"styleStatus"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Character) TableName() string {
	return "project_character"
}

// Active reports whether the character has a photo to work from.
func (c *Character) Active() bool {
	return c.SourceImageRef != "" || c.UploadedURL != ""
}

// Validate checks that a styled image never exists without its durable upload.
func (c *Character) Validate() error {
	if c.StyledURL != "" && c.UploadedURL == "" {
		return fmt.Errorf("character %s: styled image without upload", c.ID)
	}
	return nil
}
