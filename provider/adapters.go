package provider

import (
	"context"
	"strconv"

	"CharacterReel-server/pipeline"
)

// StyleClient restyles a character photo with an image-edit model.
type StyleClient struct {
	client *Client
	model  string
}

func NewStyleClient(c *Client, model string) *StyleClient {
	return &StyleClient{client: c, model: model}
}

func (s *StyleClient) Stylize(ctx context.Context, imageURL, stylePrompt string) (string, error) {
	taskID, err := s.client.CreateTask(ctx, s.model, map[string]interface{}{
		"prompt":        stylePrompt,
		"image_urls":    []string{imageURL},
		"output_format": "png",
		"image_size":    "1:1",
	})
	if err != nil {
		return "", err
	}
	return s.client.WaitForTask(ctx, taskID)
}

// ComposeClient renders scene images. Requests with references go to the
// image-to-image model; the rest to the text-to-image model.
type ComposeClient struct {
	client    *Client
	model     string
	textModel string
}

func NewComposeClient(c *Client, model, textModel string) *ComposeClient {
	return &ComposeClient{client: c, model: model, textModel: textModel}
}

func (cc *ComposeClient) Compose(ctx context.Context, req pipeline.ComposeRequest) (string, error) {
	input := map[string]interface{}{
		"prompt":       req.Prompt,
		"aspect_ratio": req.AspectRatio,
		"resolution":   "1K",
	}
	model := cc.textModel
	if len(req.ReferenceURLs) > 0 {
		input["input_urls"] = req.ReferenceURLs
		model = cc.model
	}
	taskID, err := cc.client.CreateTask(ctx, model, input)
	if err != nil {
		return "", err
	}
	return cc.client.WaitForTask(ctx, taskID)
}

// VideoClient submits image-to-video jobs. Polling is left to the caller.
type VideoClient struct {
	client *Client
	model  string
}

func NewVideoClient(c *Client, model string) *VideoClient {
	return &VideoClient{client: c, model: model}
}

func (v *VideoClient) Submit(ctx context.Context, req pipeline.AnimateRequest) (string, error) {
	return v.client.CreateTask(ctx, v.model, map[string]interface{}{
		"prompt":          req.Prompt,
		"image_url":       req.ImageURL,
		"duration":        strconv.Itoa(req.DurationSeconds),
		"negative_prompt": req.NegativePrompt,
		"cfg_scale":       0.5,
	})
}

func (v *VideoClient) Poll(ctx context.Context, jobID string) (pipeline.JobStatus, error) {
	return v.client.RecordInfo(ctx, jobID)
}
