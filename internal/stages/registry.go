package stages

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

//go:embed stages.toml
var defaultTable string

// Metadata is the declared behaviour of one stage.
type Metadata struct {
	Stage       Stage
	Category    Category
	Produces    Kind
	OnPass      Stage
	OnFail      Stage
	Description string
}

// Terminal reports whether the stage has no outgoing edges.
func (m Metadata) Terminal() bool {
	return m.Category == CategoryTerminal
}

// Next returns the declared target for outcome.
func (m Metadata) Next(outcome Outcome) (Stage, error) {
	if m.Terminal() {
		return "", fmt.Errorf("%w: %s", ErrNoTransitions, m.Stage)
	}
	switch outcome {
	case OutcomePass:
		return m.OnPass, nil
	case OutcomeFail:
		return m.OnFail, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", string(outcome))
	}
}

// Resolve builds the Step a Story at this stage takes on outcome.
func (m Metadata) Resolve(outcome Outcome) (Step, error) {
	to, err := m.Next(outcome)
	if err != nil {
		return Step{}, err
	}
	return Step{from: m.Stage, to: to, outcome: outcome}, nil
}

// Step is a transition declared by the registry. The zero value is invalid.
type Step struct {
	from    Stage
	to      Stage
	outcome Outcome
}

func (s Step) From() Stage { return s.from }

func (s Step) To() Stage { return s.to }

func (s Step) Outcome() Outcome { return s.outcome }

// Valid reports whether s came from Resolve.
func (s Step) Valid() bool { return s.from != "" && s.to != "" }

func (s Step) String() string {
	return fmt.Sprintf("%s -(%s)-> %s", s.from, s.outcome, s.to)
}

// Registry is the read-only stage table.
type Registry struct {
	initial Stage
	order   []Stage
	byName  map[Stage]Metadata
}

var loadDefault = sync.OnceValues(func() (*Registry, error) {
	return Load(strings.NewReader(defaultTable))
})

// Default returns the built-in stage table.
func Default() *Registry {
	reg, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("built-in stage table: %v", err))
	}
	return reg
}

// LoadFile reads a custom stage table from path.
func LoadFile(path string) (*Registry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stage table: %w", err)
	}
	defer file.Close()
	reg, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// FromFile returns the built-in table when path is empty, else the file's table.
func FromFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

type tableFile struct {
	Initial string       `toml:"initial"`
	Stages  []tableEntry `toml:"stage"`
}

type tableEntry struct {
	Name        string `toml:"name"`
	Category    string `toml:"category"`
	Produces    string `toml:"produces"`
	OnPass      string `toml:"on_pass"`
	OnFail      string `toml:"on_fail"`
	Description string `toml:"description"`
}

// Load decodes and validates a stage table.
func Load(r io.Reader) (*Registry, error) {
	var file tableFile
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidTable, err)
	}

	reg := &Registry{
		initial: Stage(strings.TrimSpace(file.Initial)),
		byName:  make(map[Stage]Metadata, len(file.Stages)),
	}
	for i, entry := range file.Stages {
		md, err := entry.metadata()
		if err != nil {
			return nil, fmt.Errorf("%w: stage %d: %w", ErrInvalidTable, i+1, err)
		}
		if _, dup := reg.byName[md.Stage]; dup {
			return nil, fmt.Errorf("%w: stage %q declared twice", ErrInvalidTable, md.Stage)
		}
		reg.byName[md.Stage] = md
		reg.order = append(reg.order, md.Stage)
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (e tableEntry) metadata() (Metadata, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return Metadata{}, errors.New("name is required")
	}
	if strings.HasPrefix(name, ClaimPrefix) {
		return Metadata{}, fmt.Errorf("%q: names may not start with %q", name, ClaimPrefix)
	}
	category, err := ParseCategory(e.Category)
	if err != nil {
		return Metadata{}, fmt.Errorf("%q: %w", name, err)
	}
	md := Metadata{
		Stage:       Stage(name),
		Category:    category,
		OnPass:      Stage(strings.TrimSpace(e.OnPass)),
		OnFail:      Stage(strings.TrimSpace(e.OnFail)),
		Description: strings.TrimSpace(e.Description),
	}
	if category == CategoryTerminal {
		if md.OnPass != "" || md.OnFail != "" || strings.TrimSpace(e.Produces) != "" {
			return Metadata{}, fmt.Errorf("%q: terminal stages declare no kind or transitions", name)
		}
		return md, nil
	}
	if md.Produces, err = ParseKind(e.Produces); err != nil {
		return Metadata{}, fmt.Errorf("%q: %w", name, err)
	}
	if md.OnPass == "" || md.OnFail == "" {
		return Metadata{}, fmt.Errorf("%q: on_pass and on_fail are required", name)
	}
	return md, nil
}

func (r *Registry) validate() error {
	if len(r.order) == 0 {
		return fmt.Errorf("%w: no stages declared", ErrInvalidTable)
	}
	initial, ok := r.byName[r.initial]
	if !ok {
		return fmt.Errorf("%w: initial stage %q is not declared", ErrInvalidTable, r.initial)
	}
	if initial.Terminal() {
		return fmt.Errorf("%w: initial stage %q is terminal", ErrInvalidTable, r.initial)
	}
	for _, name := range r.order {
		md := r.byName[name]
		for _, target := range []Stage{md.OnPass, md.OnFail} {
			if target == "" {
				continue
			}
			if _, ok := r.byName[target]; !ok {
				return fmt.Errorf("%w: %q points at undeclared stage %q", ErrInvalidTable, name, target)
			}
		}
	}
	return nil
}

// IsValid reports whether stage is declared.
func (r *Registry) IsValid(stage Stage) bool {
	_, ok := r.byName[stage]
	return ok
}

// Accepts reports whether value may be stored as a Story's stage: a declared
// stage, or the claim marker of a declared non-terminal stage.
func (r *Registry) Accepts(value Stage) bool {
	if base, ok := ParseClaimMarker(value); ok {
		md, found := r.byName[base]
		return found && !md.Terminal()
	}
	return r.IsValid(value)
}

// Lookup returns the raw table entry, including terminal stages.
func (r *Registry) Lookup(stage Stage) (Metadata, error) {
	md, ok := r.byName[stage]
	if !ok {
		return Metadata{}, &UnknownStageError{Stage: stage}
	}
	return md, nil
}

// MetadataFor returns the transition metadata for stage. Terminal stages
// return ErrNoTransitions.
func (r *Registry) MetadataFor(stage Stage) (Metadata, error) {
	md, err := r.Lookup(stage)
	if err != nil {
		return Metadata{}, err
	}
	if md.Terminal() {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNoTransitions, stage)
	}
	return md, nil
}

// AllStages returns every declared stage in table order.
func (r *Registry) AllStages() []Stage {
	return append([]Stage(nil), r.order...)
}

// WorkStages returns the stages a worker can be assigned to.
func (r *Registry) WorkStages() []Stage {
	out := make([]Stage, 0, len(r.order))
	for _, name := range r.order {
		if !r.byName[name].Terminal() {
			out = append(out, name)
		}
	}
	return out
}

// Initial returns the stage new Stories start in.
func (r *Registry) Initial() Stage {
	return r.initial
}

// IsTerminal reports whether stage is declared and has no outgoing edges.
func (r *Registry) IsTerminal(stage Stage) bool {
	md, ok := r.byName[stage]
	return ok && md.Terminal()
}
