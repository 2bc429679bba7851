package publish

import (
	"time"

	"github.com/adaptauthoring/backend/internal/models"
	"github.com/adaptauthoring/backend/internal/plugins"
)

// StageStatus is the bookkeeping status of one pipeline stage
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageState records how a stage ran. A forced build that failed is recorded as
// succeeded with LastError set; the failure itself is returned by Publish.
type StageState struct {
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	Attempts   int         `json:"attempts"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	LastError  string      `json:"lastError,omitempty"`
}

func (s *StageState) start(now time.Time) {
	s.Status = StageRunning
	s.Attempts++
	s.StartedAt = &now
}

func (s *StageState) finish(now time.Time, err error) {
	s.FinishedAt = &now
	if err != nil {
		s.Status = StageFailed
		s.LastError = err.Error()
		return
	}
	s.Status = StageSucceeded
}

// courseDocument is the assembled course content in the shape written to the course JSON files
type courseDocument struct {
	Course         map[string]any
	Config         map[string]any
	ContentObjects []map[string]any
	Articles       []map[string]any
	Blocks         []map[string]any
	Components     []map[string]any
	Assets         []map[string]any
}

// contentFiles pairs each collection with the file it is written to
func (d *courseDocument) contentFiles() []contentFile {
	return []contentFile{
		{name: "course.json", value: d.Course},
		{name: "config.json", value: d.Config},
		{name: "contentObjects.json", value: d.ContentObjects},
		{name: "articles.json", value: d.Articles},
		{name: "blocks.json", value: d.Blocks},
		{name: "components.json", value: d.Components},
		{name: "assets.json", value: d.Assets},
	}
}

// objects returns every content document
func (d *courseDocument) objects() []map[string]any {
	all := []map[string]any{d.Course, d.Config}
	for _, list := range [][]map[string]any{d.ContentObjects, d.Articles, d.Blocks, d.Components} {
		all = append(all, list...)
	}
	return all
}

type contentFile struct {
	name  string
	value any
}

// state is threaded through the stages of one Publish call
type state struct {
	courseID string
	opts     Options

	courseRoot string
	courseDir  string
	outputDir  string

	course *models.Entity
	doc    *courseDocument

	pluginConfig  plugins.CourseConfig
	themeSettings map[string]any
	menuSettings  map[string]any
	includes      []plugins.Include

	buildTheme string
	buildMenu  string
	scratch    []string

	rebuild  bool
	buildErr error

	stages   map[string]*StageState
	artifact *Artifact
}

func (st *state) stage(name string) *StageState {
	ss, ok := st.stages[name]
	if !ok {
		ss = &StageState{Name: name, Status: StagePending}
		st.stages[name] = ss
	}
	return ss
}
