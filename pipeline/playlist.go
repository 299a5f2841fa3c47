package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
)

type PlaylistEntry struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

// Playlist is the sequential playback manifest. No server-side concatenation
// is done.
type Playlist struct {
	Videos        []PlaylistEntry `json:"videos"`
	TotalDuration int             `json:"totalDuration"`
	URL           string          `json:"-"`
}

type Assembler struct {
	store   ObjectStore
	records RecordStore
	log     *slog.Logger
}

func NewAssembler(store ObjectStore, records RecordStore, log *slog.Logger) *Assembler {
	return &Assembler{
		store:   store,
		records: records,
		log:     logging.WithComponent(logging.OrDefault(log), "assembler"),
	}
}

// Assemble writes the playlist for runID to durable storage.
func (a *Assembler) Assemble(ctx context.Context, runID string, entries []PlaylistEntry) (*Playlist, error) {
	if len(entries) == 0 {
		return nil, Precondition(ReasonNoScenes, "nothing to assemble")
	}
	pl := &Playlist{Videos: make([]PlaylistEntry, len(entries))}
	for i, e := range entries {
		if e.URL == "" {
			return nil, Precondition(ReasonMissingArtifact, "scene %d has no video", i+1)
		}
		pl.Videos[i] = e
		pl.TotalDuration += e.Duration
	}

	b, err := json.Marshal(pl)
	if err != nil {
		return nil, PersistenceFailed("encode playlist", err)
	}
	url, err := a.store.Put(ctx, "playlists/"+runID+".json", b, "application/json")
	if err != nil {
		return nil, PersistenceFailed("store playlist", err)
	}
	pl.URL = url
	a.log.Info("playlist stored", slog.String("run_id", runID), slog.Int("videos", len(pl.Videos)))
	return pl, nil
}

// PersistGenerationRecord saves rec once. A failed save is logged and nil
// is returned; the run still succeeds.
func (a *Assembler) PersistGenerationRecord(ctx context.Context, rec *models.GenerationRecord) *models.GenerationRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	id, err := a.records.SaveGenerationRecord(ctx, rec)
	if err != nil {
		a.log.Error("failed to save generation record", slog.String("run_id", rec.RunID), slog.Any("error", err))
		return nil
	}
	if id != "" {
		rec.ID = id
	}
	return rec
}
