package domain

import "fmt"

// Stage identifies one step of the pipeline.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageScript     Stage = "script"
	StageSynthesize Stage = "synthesize"
	StageAssemble   Stage = "assemble"
	StageFinalize   Stage = "finalize"
)

// SlideStages are the per-slide stages in dependency order.
var SlideStages = []Stage{StageScript, StageSynthesize, StageAssemble}

// AllStages lists every stage in pipeline order.
var AllStages = []Stage{StageExtract, StageScript, StageSynthesize, StageAssemble, StageFinalize}

// JobScoped reports whether the stage runs once per job rather than per slide.
func (s Stage) JobScoped() bool {
	return s == StageExtract || s == StageFinalize
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	for _, st := range AllStages {
		if st == s {
			return true
		}
	}
	return false
}

// Order returns the position of the stage in the pipeline.
func (s Stage) Order() int {
	for i, st := range AllStages {
		if st == s {
			return i
		}
	}
	return len(AllStages)
}

// ParseStage converts a string into a Stage.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidArgument, v)
	}
	return s, nil
}

// UnitStatus is the status of a single stage unit.
type UnitStatus string

const (
	UnitPending UnitStatus = "pending"
	UnitRunning UnitStatus = "running"
	UnitDone    UnitStatus = "done"
	UnitFailed  UnitStatus = "failed"
)

// JobSlide marks a unit that is scoped to the whole job.
const JobSlide = -1

// Unit is one schedulable piece of work: a stage for a slide (or for the
// job) at a specific input version.
type Unit struct {
	JobID   string `json:"job_id"`
	Slide   int    `json:"slide"`
	Stage   Stage  `json:"stage"`
	Version int    `json:"version"`
}

// String renders the unit for logs.
func (u Unit) String() string {
	if u.Slide == JobSlide {
		return fmt.Sprintf("%s/%s@v%d", u.JobID, u.Stage, u.Version)
	}
	return fmt.Sprintf("%s/%d/%s@v%d", u.JobID, u.Slide, u.Stage, u.Version)
}

// Outcome is the result of executing a unit.
type Outcome struct {
	Unit        Unit
	ArtifactKey string
	// Strategy records the encoding strategy chosen by assemble or finalize.
	Strategy string
	// Script holds generated narration text for the script stage.
	Script string
	// SlideKeys holds the ordered slide image keys produced by extract.
	SlideKeys []string
	Err       error
}

// Succeeded reports whether the unit produced an output.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}
