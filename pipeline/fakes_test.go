package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
)

const storeBase = "https://store.test/"

type fakeFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, ref string) ([]byte, string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("bytes:" + ref), "image/png", nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    atomic.Int32
	// failPrefix makes Put fail for matching keys.
	failPrefix string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.puts.Add(1)
	if s.failPrefix != "" && strings.HasPrefix(key, s.failPrefix) {
		return "", errors.New("bucket unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return storeBase + key, nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return b, nil
}

func (s *memStore) countPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

type fakeStyle struct {
	calls  atomic.Int32
	mu     sync.Mutex
	inputs []string
	// failFor makes Stylize fail when the image URL contains it.
	failFor string
	delay   time.Duration
}

func (f *fakeStyle) Stylize(_ context.Context, imageURL, _ string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.inputs = append(f.inputs, imageURL)
	f.mu.Unlock()
	if f.failFor != "" && strings.Contains(imageURL, f.failFor) {
		return "", errors.New("style provider rejected image")
	}
	return "https://provider.test/styled.png", nil
}

type fakeCompose struct {
	calls atomic.Int32
	mu    sync.Mutex
	reqs  []ComposeRequest
	err   error
}

func (f *fakeCompose) Compose(_ context.Context, req ComposeRequest) (string, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("https://provider.test/scene-%d.png", n), nil
}

func (f *fakeCompose) lastRequest() ComposeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeVideo struct {
	submits atomic.Int32
	polls   atomic.Int32
	mu      sync.Mutex
	reqs    []AnimateRequest
	// poll decides the status for the n-th poll (1-based). Nil means completed.
	poll func(n int32, jobID string) (JobStatus, error)
}

func (f *fakeVideo) Submit(_ context.Context, req AnimateRequest) (string, error) {
	n := f.submits.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return fmt.Sprintf("job-%d", n), nil
}

func (f *fakeVideo) Poll(_ context.Context, jobID string) (JobStatus, error) {
	n := f.polls.Add(1)
	if f.poll != nil {
		return f.poll(n, jobID)
	}
	return JobStatus{State: JobCompleted, ResultURL: "https://provider.test/" + jobID + ".mp4"}, nil
}

type fakeProjects struct {
	characterSaves atomic.Int32
	sceneSaves     atomic.Int32
}

func (f *fakeProjects) SaveCharacter(context.Context, *models.Character) error {
	f.characterSaves.Add(1)
	return nil
}

func (f *fakeProjects) SaveScene(context.Context, *models.Scene) error {
	f.sceneSaves.Add(1)
	return nil
}

type fakeRecords struct {
	mu    sync.Mutex
	saved []*models.GenerationRecord
	err   error
}

func (f *fakeRecords) SaveGenerationRecord(_ context.Context, rec *models.GenerationRecord) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	return rec.ID, nil
}

type fakeBalance struct {
	mu      sync.Mutex
	balance int64
	debits  []int64
	// drainAfter empties the balance once this many debits have succeeded,
	// as a concurrent run by the same user would.
	drainAfter int
}

func (f *fakeBalance) GetBalance(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeBalance) Debit(_ context.Context, _, _ string, amount int64, _ string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance < amount {
		return f.balance, false, nil
	}
	f.balance -= amount
	f.debits = append(f.debits, amount)
	if f.drainAfter > 0 && len(f.debits) == f.drainAfter {
		f.balance = 0
	}
	return f.balance, true, nil
}

type harness struct {
	fetcher  *fakeFetcher
	store    *memStore
	style    *fakeStyle
	compose  *fakeCompose
	video    *fakeVideo
	projects *fakeProjects
	records  *fakeRecords
	balance  *fakeBalance
	ledger   *Ledger
	orch     *Orchestrator
}

var testRates = Rates{PerImage: 10, PerSecond: 75}

func newHarness(t *testing.T, balance int64) *harness {
	t.Helper()
	h := &harness{
		fetcher:  &fakeFetcher{},
		store:    newMemStore(),
		style:    &fakeStyle{},
		compose:  &fakeCompose{},
		video:    &fakeVideo{},
		projects: &fakeProjects{},
		records:  &fakeRecords{},
		balance:  &fakeBalance{balance: balance},
	}
	log := logging.Discard()
	h.ledger = NewLedger(h.balance, testRates, log)
	h.orch = NewOrchestrator(Deps{
		Stylizer:  NewStylizer(h.fetcher, h.store, h.style, h.projects, 4, log),
		Composer:  NewComposer(h.compose, h.fetcher, h.store, h.projects, 8, log),
		Animator:  NewAnimator(h.video, h.fetcher, h.store, false, PollPolicy{Interval: time.Millisecond, MaxAttempts: 5}, log),
		Assembler: NewAssembler(h.store, h.records, log),
		Ledger:    h.ledger,
		Projects:  h.projects,
		Limits:    Limits{MaxScenes: 3, MaxTotalDuration: 15},
		Logger:    log,
		Now:       func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) },
	})
	return h
}

func character(id, name string) *models.Character {
	return &models.Character{
		ID:             id,
		Name:           name,
		SourceImageRef: "https://photos.test/" + id + ".jpg",
		StyleStatus:    models.StyleStatusIdle,
	}
}

func scene(id, prompt string, refs ...string) *models.Scene {
	return &models.Scene{
		ID:                     id,
		Prompt:                 prompt,
		DurationSeconds:        5,
		ReferencedCharacterIDs: models.StringList(refs),
		Status:                 models.SceneStatusPending,
	}
}

func request(chars []*models.Character, scenes ...*models.Scene) RunRequest {
	return RunRequest{
		RunID:       "run-1",
		UserID:      "user-1",
		ProjectID:   "project-1",
		StyleID:     "sketch",
		AspectRatio: "9:16",
		Characters:  chars,
		Scenes:      scenes,
	}
}
