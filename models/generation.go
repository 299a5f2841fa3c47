package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type CharacterSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type SceneSummary struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type CharacterSummaries []CharacterSummary

func (c CharacterSummaries) Value() (driver.Value, error) {
	b, err := json.Marshal([]CharacterSummary(c))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *CharacterSummaries) Scan(value interface{}) error {
	return scanJSON(value, (*[]CharacterSummary)(c))
}

type SceneSummaries []SceneSummary

func (s SceneSummaries) Value() (driver.Value, error) {
	b, err := json.Marshal([]SceneSummary(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *SceneSummaries) Scan(value interface{}) error {
	return scanJSON(value, (*[]SceneSummary)(s))
}

// GenerationRecord is the durable result of a completed run. Only Name may
// change after it is written.
type GenerationRecord struct {
	ID           string             `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID       string             `gorm:"type:varchar(64);index" json:"userId"`
	ProjectID    string             `gorm:"type:varchar(64)" json:"projectId"`
	RunID        string             `gorm:"type:varchar(64)" json:"runId"`
	Style        string             `gorm:"type:varchar(32)" json:"style"`
	AspectRatio  string             `gorm:"type:varchar(8)" json:"aspectRatio"`
	Characters   CharacterSummaries `gorm:"type:json" json:"characters"`
	Scenes       SceneSummaries     `gorm:"type:json" json:"scenes"`
	VideoURLs    StringList         `gorm:"type:json" json:"videoUrls"`
	PlaylistURL  string             `gorm:"type:text" json:"playlistUrl,omitempty"`
	Name         string             `json:"name"`
	ThumbnailURL string             `gorm:"type:text" json:"thumbnailUrl,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

func (GenerationRecord) TableName() string {
	return "generation"
}
