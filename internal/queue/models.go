package queue

import (
	"encoding/json"
	"time"

	"storyforge/internal/stages"
)

// Story is the aggregate root tracked through the pipeline. The struct is a
// read snapshot; persisted fields change only through the Store.
type Story struct {
	ID             int64        `json:"id"`
	IdeaRef        string       `json:"idea_ref"`
	Stage          stages.Stage `json:"stage"`
	ClaimedBy      string       `json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time   `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// BaseStage returns the stage the Story occupies, looking through a claim marker.
func (s *Story) BaseStage() stages.Stage {
	return stages.BaseStage(s.Stage)
}

// IsClaimed reports whether a worker currently holds the Story.
func (s *Story) IsClaimed() bool {
	_, ok := stages.ParseClaimMarker(s.Stage)
	return ok
}

// LeaseExpired reports whether the Story is claimed with a lease that ended before now.
func (s *Story) LeaseExpired(now time.Time) bool {
	return s.IsClaimed() && s.LeaseExpiresAt != nil && !s.LeaseExpiresAt.After(now)
}

// Revision is one immutable version of a Story's title or script. It has no
// setters; the review reference is attached through Store.AttachReview.
type Revision struct {
	id        int64
	storyID   int64
	kind      stages.Kind
	version   int64
	text      string
	reviewID  int64
	createdAt time.Time
}

func (r *Revision) ID() int64            { return r.id }
func (r *Revision) StoryID() int64       { return r.storyID }
func (r *Revision) Kind() stages.Kind    { return r.kind }
func (r *Revision) Version() int64       { return r.version }
func (r *Revision) Text() string         { return r.text }
func (r *Revision) CreatedAt() time.Time { return r.createdAt }

// ReviewID returns the attached review, if any.
func (r *Revision) ReviewID() (int64, bool) {
	return r.reviewID, r.reviewID != 0
}

type revisionJSON struct {
	ID        int64       `json:"id"`
	StoryID   int64       `json:"story_id"`
	Kind      stages.Kind `json:"kind"`
	Version   int64       `json:"version"`
	Text      string      `json:"text"`
	ReviewID  *int64      `json:"review_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func (r *Revision) MarshalJSON() ([]byte, error) {
	out := revisionJSON{
		ID:        r.id,
		StoryID:   r.storyID,
		Kind:      r.kind,
		Version:   r.version,
		Text:      r.text,
		CreatedAt: r.createdAt,
	}
	if id, ok := r.ReviewID(); ok {
		out.ReviewID = &id
	}
	return json.Marshal(out)
}

// Review is immutable scored feedback.
type Review struct {
	id        int64
	text      string
	score     int
	createdAt time.Time
}

func (r *Review) ID() int64            { return r.id }
func (r *Review) Text() string         { return r.text }
func (r *Review) Score() int           { return r.score }
func (r *Review) CreatedAt() time.Time { return r.createdAt }

func (r *Review) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        int64     `json:"id"`
		Text      string    `json:"text"`
		Score     int       `json:"score"`
		CreatedAt time.Time `json:"created_at"`
	}{r.id, r.text, r.score, r.createdAt})
}

// StoryReviewLink ties a Story-wide review to the Story version it judged.
type StoryReviewLink struct {
	ID         int64     `json:"id"`
	StoryID    int64     `json:"story_id"`
	ReviewID   int64     `json:"review_id"`
	Version    int64     `json:"version"`
	ReviewType string    `json:"review_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// Claim records a worker's lease on a Story at a stage.
type Claim struct {
	StoryID   int64        `json:"story_id"`
	Stage     stages.Stage `json:"stage"`
	WorkerID  string       `json:"worker_id"`
	ExpiresAt time.Time    `json:"expires_at"`
	// stamp is the updated_at value written by the claim; release compares it.
	stamp time.Time
}

// Transition is one row of a Story's audit trail.
type Transition struct {
	ID        int64          `json:"id"`
	StoryID   int64          `json:"story_id"`
	From      stages.Stage   `json:"from"`
	To        stages.Stage   `json:"to"`
	Outcome   stages.Outcome `json:"outcome"`
	WorkerID  string         `json:"worker_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// DatabaseHealth captures diagnostic information about the database.
type DatabaseHealth struct {
	DBPath        string   `json:"db_path"`
	SchemaVersion int      `json:"schema_version"`
	JournalMode   string   `json:"journal_mode"`
	ForeignKeys   bool     `json:"foreign_keys"`
	IntegrityOK   bool     `json:"integrity_ok"`
	Stories       int      `json:"stories"`
	Revisions     int      `json:"revisions"`
	Reviews       int      `json:"reviews"`
	Claimed       int      `json:"claimed"`
	ExpiredClaims int      `json:"expired_claims"`
	UnknownStages []string `json:"unknown_stages,omitempty"`
}
