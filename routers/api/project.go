package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"CharacterReel-server/models"
	"CharacterReel-server/pipeline"
)

type characterInput struct {
	// Ref is a client-side handle that scenes use to reference the character.
	Ref            string `json:"ref"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	SourceImageRef string `json:"sourceImageRef"`
}

type sceneInput struct {
	Prompt          string   `json:"prompt"`
	DurationSeconds int      `json:"durationSeconds"`
	CharacterRefs   []string `json:"characterRefs"`
}

type createProjectRequest struct {
	UserID      string           `json:"userId" binding:"required"`
	Title       string           `json:"title"`
	StyleID     string           `json:"styleId" binding:"required"`
	AspectRatio string           `json:"aspectRatio"`
	Characters  []characterInput `json:"characters"`
	Scenes      []sceneInput     `json:"scenes"`
}

// buildProject turns the request into a project with fresh ids, checking
// that every scene reference resolves and that the scenes fit the limits.
func (h *Handler) buildProject(req createProjectRequest) (*models.Project, error) {
	if _, ok := pipeline.LookupStyle(req.StyleID); !ok {
		return nil, fmt.Errorf("unknown style %q", req.StyleID)
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = h.defaultAspect
	}
	p := &models.Project{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Title:       req.Title,
		StyleID:     req.StyleID,
		AspectRatio: aspect,
	}

	ids := make(map[string]string, len(req.Characters))
	for i, ci := range req.Characters {
		if strings.TrimSpace(ci.Name) == "" {
			return nil, fmt.Errorf("character %d has no name", i+1)
		}
		if ci.SourceImageRef == "" {
			return nil, fmt.Errorf("character %q has no image", ci.Name)
		}
		ref := ci.Ref
		if ref == "" {
			ref = ci.Name
		}
		if _, dup := ids[ref]; dup {
			return nil, fmt.Errorf("duplicate character ref %q", ref)
		}
		id := uuid.NewString()
		ids[ref] = id
		p.Characters = append(p.Characters, models.Character{
			ID:             id,
			Position:       i,
			Name:           ci.Name,
			Description:    ci.Description,
			SourceImageRef: ci.SourceImageRef,
		})
	}

	for i, si := range req.Scenes {
		if h.maxRefs > 0 && len(si.CharacterRefs) > h.maxRefs {
			return nil, fmt.Errorf("scene %d references %d characters, the limit is %d", i+1, len(si.CharacterRefs), h.maxRefs)
		}
		var refs models.StringList
		for _, r := range si.CharacterRefs {
			id, ok := ids[r]
			if !ok {
				return nil, fmt.Errorf("scene %d references unknown character %q", i+1, r)
			}
			if !refs.Contains(id) {
				refs = append(refs, id)
			}
		}
		p.Scenes = append(p.Scenes, models.Scene{
			ID:                     uuid.NewString(),
			Position:               i,
			Prompt:                 si.Prompt,
			DurationSeconds:        si.DurationSeconds,
			ReferencedCharacterIDs: refs,
		})
	}
	if err := h.limits.Check(p.ScenePtrs()); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateProject stores characters and scenes. Nothing is generated until a
// run is started.
func (h *Handler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	project, err := h.buildProject(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": pipeline.ReasonOf(err)})
		return
	}
	if err := h.store.CreateProject(c.Request.Context(), project); err != nil {
		h.log.Error("create project failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create project failed: " + err.Error()})
		return
	}
	h.log.Info("project created",
		slog.String("project_id", project.ID),
		slog.Int("characters", len(project.Characters)),
		slog.Int("scenes", len(project.Scenes)),
	)
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.store.GetProject(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		h.storeError(c, "project", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// GetEstimate prices a full run of the project against the user's balance.
func (h *Handler) GetEstimate(c *gin.Context) {
	ctx := c.Request.Context()
	project, err := h.store.GetProject(ctx, c.Param("project_id"))
	if err != nil {
		h.storeError(c, "project", err)
		return
	}
	balance, err := h.store.GetBalance(ctx, project.UserID)
	if err != nil {
		h.storeError(c, "balance", err)
		return
	}
	est := h.rates.Estimate(project.ScenePtrs())
	c.JSON(http.StatusOK, gin.H{
		"estimate":   est,
		"balance":    balance,
		"affordable": h.rates.CanAfford(balance, est.Total),
	})
}

func (h *Handler) ListStyles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"styles": pipeline.Styles()})
}
