package models

import "time"

// Project status constants, describing how far generation has progressed.
const (
	ProjectStatusCreated         = "created"          // characters and scenes entered, nothing generated
	ProjectStatusImagesGenerated = "images_generated" // every scene has an image
	ProjectStatusReady           = "ready"            // every scene has a video, record written
	ProjectStatusFailed          = "failed"           // last run failed
)

// Project groups a user's characters and ordered scenes.
type Project struct {
	ID          string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID      string      `gorm:"type:varchar(64);index" json:"userId"`
	Title       string      `json:"title"`
	StyleID     string      `gorm:"type:varchar(32)" json:"styleId"`
	AspectRatio string      `gorm:"type:varchar(8)" json:"aspectRatio"`
	Status      string      `gorm:"type:varchar(32)" json:"status"`
	Characters  []Character `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"characters"`
	Scenes      []Scene     `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"scenes"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

// CharacterPtrs returns pointers into p.Characters so callers mutate in place.
func (p *Project) CharacterPtrs() []*Character {
	out := make([]*Character, len(p.Characters))
	for i := range p.Characters {
		out[i] = &p.Characters[i]
	}
	return out
}

// ScenePtrs returns pointers into p.Scenes so callers mutate in place.
func (p *Project) ScenePtrs() []*Scene {
	out := make([]*Scene, len(p.Scenes))
	for i := range p.Scenes {
		out[i] = &p.Scenes[i]
	}
	return out
}
