package pipeline

import "sync"

// ArtifactCache is a run-scoped, write-once map of produced URLs. Lookups
// here take priority over whatever the caller's durable records say.
type ArtifactCache struct {
	mu          sync.RWMutex
	uploaded    map[string]string
	styled      map[string]string
	sceneImages map[string]string
}

func NewArtifactCache() *ArtifactCache {
	return &ArtifactCache{
		uploaded:    make(map[string]string),
		styled:      make(map[string]string),
		sceneImages: make(map[string]string),
	}
}

func (c *ArtifactCache) get(m map[string]string, key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return m[key]
}

// put stores url under key unless the key is already set.
func (c *ArtifactCache) put(m map[string]string, key, url string) bool {
	if url == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := m[key]; ok {
		return false
	}
	m[key] = url
	return true
}

func (c *ArtifactCache) Uploaded(characterID string) string {
	return c.get(c.uploaded, characterID)
}

func (c *ArtifactCache) Styled(characterID string) string {
	return c.get(c.styled, characterID)
}

func (c *ArtifactCache) SceneImage(sceneID string) string {
	return c.get(c.sceneImages, sceneID)
}

func (c *ArtifactCache) PutUploaded(characterID, url string) bool {
	return c.put(c.uploaded, characterID, url)
}

func (c *ArtifactCache) PutStyled(characterID, url string) bool {
	return c.put(c.styled, characterID, url)
}

func (c *ArtifactCache) PutSceneImage(sceneID, url string) bool {
	return c.put(c.sceneImages, sceneID, url)
}
