package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Run statuses (shared across every run mode)
const (
	// pending: enqueued, waiting for the processor to pick it up
	RunStatusPending = "pending"
	// processing: the orchestrator is driving it
	RunStatusProcessing = "processing"
	RunStatusFinished   = "finished"
	RunStatusFailed     = "failed"
	// cancelled: stopped by the user; provider-side jobs may still finish
	RunStatusCancelled = "cancelled"
)

// Run modes, one per orchestrator entry point.
const (
	RunModeFull       = "full"
	RunModeImagesOnly = "images"
	RunModeVideosOnly = "videos"
	RunModeRegenerate = "regenerate"
)

// Run is the persisted status of one orchestrator execution.
type Run struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID    string     `gorm:"type:varchar(64);index" json:"projectId"`
	UserID       string     `gorm:"type:varchar(64)" json:"userId"`
	SceneID      string     `gorm:"type:varchar(64)" json:"sceneId,omitempty"`
	Mode         string     `gorm:"type:varchar(16)" json:"mode"`
	Status       string     `gorm:"type:varchar(16)" json:"status"`
	Stage        string     `gorm:"type:varchar(32)" json:"stage"`
	CurrentScene int        `json:"currentScene"`
	TotalScenes  int        `json:"totalScenes"`
	Percentage   float64    `json:"percentage"`
	Error        string     `gorm:"type:text" json:"error,omitempty"`
	Result       RunResult  `gorm:"type:json" json:"result"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (Run) TableName() string {
	return "run"
}

// Terminal reports whether the run will not change again.
func (r *Run) Terminal() bool {
	switch r.Status {
	case RunStatusFinished, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunResult keeps only the locators of what a run produced.
type RunResult struct {
	VideoURLs    []string `json:"videoUrls,omitempty"`
	PlaylistURL  string   `json:"playlistUrl,omitempty"`
	GenerationID string   `json:"generationId,omitempty"`
	FailedStage  string   `json:"failedStage,omitempty"`
}

// Value implements driver.Valuer: Go struct -> JSON string.
func (r RunResult) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner: JSON -> Go struct.
func (r *RunResult) Scan(value interface{}) error {
	return scanJSON(value, r)
}
