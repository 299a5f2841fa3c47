package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
	"CharacterReel-server/pipeline"
	"CharacterReel-server/service"
)

// RunCanceller stops a queued or running run.
type RunCanceller interface {
	CancelRun(ctx context.Context, runID string) error
}

// Handler carries the dependencies of every route.
type Handler struct {
	store         *models.Store
	queue         service.Enqueuer
	runs          RunCanceller
	rates         pipeline.Rates
	limits        pipeline.Limits
	maxRefs       int
	defaultAspect string
	// wsInterval is how often the progress websocket re-reads the run row.
	wsInterval time.Duration
	log        *slog.Logger
}

type Options struct {
	Store              *models.Store
	Queue              service.Enqueuer
	Runs               RunCanceller
	Rates              pipeline.Rates
	Limits             pipeline.Limits
	MaxReferenceImages int
	DefaultAspectRatio string
	WSInterval         time.Duration
	Logger             *slog.Logger
}

func NewHandler(opts Options) *Handler {
	if opts.WSInterval <= 0 {
		opts.WSInterval = time.Second
	}
	return &Handler{
		store:         opts.Store,
		queue:         opts.Queue,
		runs:          opts.Runs,
		rates:         opts.Rates,
		limits:        opts.Limits,
		maxRefs:       opts.MaxReferenceImages,
		defaultAspect: opts.DefaultAspectRatio,
		wsInterval:    opts.WSInterval,
		log:           logging.WithComponent(logging.OrDefault(opts.Logger), "api"),
	}
}

// storeError maps a store lookup error to a response.
func (h *Handler) storeError(c *gin.Context, what string, err error) {
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	h.log.Error("store error", slog.String("what", what), slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "load " + what + " failed: " + err.Error()})
}
