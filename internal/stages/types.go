package stages

import (
	"fmt"
	"strings"
)

// Stage names one step of the pipeline, e.g. "Review.Script.Grammar".
type Stage string

func (s Stage) String() string { return string(s) }

// Kind identifies the content a stage produces.
type Kind string

const (
	KindTitle  Kind = "title"
	KindScript Kind = "script"
	// KindBoth marks stages whose gate depends on a title and a script together.
	KindBoth Kind = "both"
)

// ContentKinds lists the kinds a revision can carry, in display order.
var ContentKinds = []Kind{KindTitle, KindScript}

// ParseKind converts user or file input into a Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindTitle:
		return KindTitle, nil
	case KindScript:
		return KindScript, nil
	case KindBoth:
		return KindBoth, nil
	default:
		return "", fmt.Errorf("unknown content kind %q", value)
	}
}

// IsContent reports whether revisions can be stored under k.
func (k Kind) IsContent() bool {
	return k == KindTitle || k == KindScript
}

// Kinds expands k into the content kinds it covers.
func (k Kind) Kinds() []Kind {
	switch k {
	case KindTitle:
		return []Kind{KindTitle}
	case KindScript:
		return []Kind{KindScript}
	case KindBoth:
		return []Kind{KindTitle, KindScript}
	default:
		return nil
	}
}

// Category groups stages by the kind of work they do.
type Category string

const (
	CategoryGeneration Category = "generation"
	CategoryReview     Category = "review"
	CategoryRefinement Category = "refinement"
	CategoryPublishing Category = "publishing"
	CategoryTerminal   Category = "terminal"
)

var categorySet = map[Category]struct{}{
	CategoryGeneration: {},
	CategoryReview:     {},
	CategoryRefinement: {},
	CategoryPublishing: {},
	CategoryTerminal:   {},
}

// ParseCategory converts user or file input into a Category.
func ParseCategory(value string) (Category, error) {
	category := Category(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := categorySet[category]; !ok {
		return "", fmt.Errorf("unknown stage category %q", value)
	}
	return category, nil
}

// Outcome is the verdict a worker reports when it finishes a stage.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// ParseOutcome converts user input into an Outcome.
func ParseOutcome(value string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(value))) {
	case OutcomePass:
		return OutcomePass, nil
	case OutcomeFail:
		return OutcomeFail, nil
	default:
		return "", fmt.Errorf("unknown outcome %q (want pass or fail)", value)
	}
}
