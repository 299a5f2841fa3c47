package pipeline

import (
	"math"
	"sync"
)

// Stage is a state of the run state machine.
type Stage string

const (
	StageUploading            Stage = "Uploading"
	StageStylingCharacters    Stage = "StylingCharacters"
	StageComposingSceneImages Stage = "ComposingSceneImages"
	StageAnimatingScenes      Stage = "AnimatingScenes"
	StageAssembling           Stage = "Assembling"
	StageComplete             Stage = "Complete"
	StageFailed               Stage = "Failed"
)

// Progress is one report sent to the caller.
type Progress struct {
	Stage        Stage   `json:"stage"`
	CurrentScene int     `json:"currentScene"`
	TotalScenes  int     `json:"totalScenes"`
	Percentage   float64 `json:"percentage"`
}

type ProgressFunc func(Progress)

// progressReporter counts finished units and emits non-decreasing
// percentages. The final unit is only credited by complete, so 100 is never
// reported before the run is Complete.
type progressReporter struct {
	mu          sync.Mutex
	fn          ProgressFunc
	total       int
	done        int
	stage       Stage
	scene       int
	totalScenes int
	last        float64
}

func newProgressReporter(fn ProgressFunc, units, totalScenes int) *progressReporter {
	return &progressReporter{
		fn:          fn,
		total:       units + 1,
		totalScenes: totalScenes,
	}
}

func (p *progressReporter) percentage() float64 {
	pct := math.Floor(float64(p.done)*10000/float64(p.total)) / 100
	if pct < p.last {
		pct = p.last
	}
	p.last = pct
	return pct
}

func (p *progressReporter) emit() {
	if p.fn == nil {
		return
	}
	p.fn(Progress{
		Stage:        p.stage,
		CurrentScene: p.scene,
		TotalScenes:  p.totalScenes,
		Percentage:   p.percentage(),
	})
}

// enter reports a stage transition without crediting work.
func (p *progressReporter) enter(stage Stage, scene int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	p.scene = scene
	p.emit()
}

// unit credits one finished unit of work.
func (p *progressReporter) unit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done < p.total-1 {
		p.done++
	}
	p.emit()
}

func (p *progressReporter) complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = p.total
	p.stage = StageComplete
	p.emit()
}

func (p *progressReporter) fail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = StageFailed
	p.emit()
}
