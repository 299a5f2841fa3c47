package models

import (
	"fmt"
	"time"
)

const (
	SceneStatusPending    = "pending"
	SceneStatusImageReady = "image-ready"
	SceneStatusVideoReady = "video-ready"
	SceneStatusFailed     = "failed"
)

// Scene is one shot of the reel. Position is presentation and playback order.
type Scene struct {
	ID                     string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID              string     `gorm:"type:varchar(64);index" json:"projectId"`
	Position               int        `json:"position"`
	Prompt                 string     `gorm:"type:text" json:"prompt"`
	DurationSeconds        int        `json:"durationSeconds"`
	ReferencedCharacterIDs StringList `gorm:"type:json" json:"referencedCharacterIds"`
	GeneratedImageURL      string     `gorm:"type:text" json:"generatedImageUrl,omitempty"`
	VideoURL               string     `gorm:"type:text" json:"videoUrl,omitempty"`
	Status                 string     `gorm:"type:varchar(16)" json:"status"`
	Error                  string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

// SetImage records a freshly composed image. Any earlier video belonged to the
// previous image and is dropped.
func (s *Scene) SetImage(url string) {
	s.GeneratedImageURL = url
	s.VideoURL = ""
	s.Status = SceneStatusImageReady
	s.Error = ""
}

// SetVideo records the animated clip for the current image.
func (s *Scene) SetVideo(url string) error {
	if s.GeneratedImageURL == "" {
		return fmt.Errorf("scene %s: video without source image", s.ID)
	}
	s.VideoURL = url
	s.Status = SceneStatusVideoReady
	s.Error = ""
	return nil
}

// SetFailed records why the scene's last compose or animate attempt failed.
// Artifacts from earlier attempts are kept.
func (s *Scene) SetFailed(msg string) {
	s.Status = SceneStatusFailed
	s.Error = msg
}

// Validate checks that a video never exists without its source image.
func (s *Scene) Validate() error {
	if s.VideoURL != "" && s.GeneratedImageURL == "" {
		return fmt.Errorf("scene %s: video without source image", s.ID)
	}
	return nil
}

// TotalDuration sums scene durations in seconds.
func TotalDuration(scenes []*Scene) int {
	total := 0
	for _, s := range scenes {
		total += s.DurationSeconds
	}
	return total
}
