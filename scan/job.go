package scan

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/vectordb"
)

var (
	ErrJobNotFound       = errors.New("scan job not found")
	ErrJobTerminal       = errors.New("scan job is already completed or failed")
	ErrInvalidRole       = errors.New("invalid photo role")
	ErrInvalidFlow       = errors.New("invalid scan flow")
	ErrPhotoNotAttached  = errors.New("photo not attached for role")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further photos or scores are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransitions lists every allowed (from -> to) pair. Completed may be
// re-entered because finalize recomputes; failed has no exits.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusCompleted},
}

// CanTransition reports whether moving from -> to is permitted.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Flow is the protocol a job was created through.
type Flow string

const (
	FlowBatch      Flow = "batch"
	FlowSequential Flow = "sequential"
)

func (f Flow) IsValid() bool {
	return f == FlowBatch || f == FlowSequential
}

// Role is a package side a photo depicts.
type Role string

const (
	RoleFront   Role = "front"
	RoleBack    Role = "back"
	RoleLeft    Role = "left"
	RoleRight   Role = "right"
	RoleBarcode Role = "barcode"
)

// Roles lists every role in submission order.
var Roles = []Role{RoleFront, RoleBack, RoleLeft, RoleRight, RoleBarcode}

// ParseRole validates a role name from a request.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Job is a single scan request and its accumulated per-photo results.
type Job struct {
	ID          uuid.UUID                 `json:"id"`
	Status      Status                    `json:"status"`
	Flow        Flow                      `json:"flow"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	Photos      map[Role]string           `json:"photos"`
	UploadOrder []Role                    `json:"upload_order"`
	Scores      map[Role]float64          `json:"scores"`
	Matches     map[Role][]vectordb.Match `json:"matches,omitempty"`
	Result      *aggregate.Result         `json:"result,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// NewJob creates a pending job with a fresh random ID.
func NewJob(flow Flow) (*Job, error) {
	if !flow.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFlow, flow)
	}
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Status:      StatusPending,
		Flow:        flow,
		CreatedAt:   now,
		UpdatedAt:   now,
		Photos:      make(map[Role]string),
		UploadOrder: []Role{},
		Scores:      make(map[Role]float64),
		Matches:     make(map[Role][]vectordb.Match),
	}, nil
}

func (j *Job) transition(to Status) error {
	if !CanTransition(j.Status, to) {
		if j.Status.IsTerminal() {
			return ErrJobTerminal
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// AttachPhoto stores the blob reference for role and moves the job to processing.
func (j *Job) AttachPhoto(role Role, ref string) error {
	if err := j.transition(StatusProcessing); err != nil {
		return err
	}
	if j.Photos == nil {
		j.Photos = make(map[Role]string)
	}
	if _, seen := j.Photos[role]; !seen {
		j.UploadOrder = append(j.UploadOrder, role)
	}
	j.Photos[role] = ref
	return nil
}

// RecordScore stores the scorer output for an attached photo.
func (j *Job) RecordScore(role Role, score float64, matches []vectordb.Match) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	if _, ok := j.Photos[role]; !ok {
		return fmt.Errorf("%w: %s", ErrPhotoNotAttached, role)
	}
	if err := j.transition(StatusProcessing); err != nil {
		return err
	}
	if j.Scores == nil {
		j.Scores = make(map[Role]float64)
	}
	if j.Matches == nil {
		j.Matches = make(map[Role][]vectordb.Match)
	}
	j.Scores[role] = score
	if len(matches) > 0 {
		j.Matches[role] = append([]vectordb.Match(nil), matches...)
	} else {
		delete(j.Matches, role)
	}
	return nil
}

// Finalize completes the job with res. A completed job is overwritten.
func (j *Job) Finalize(res *aggregate.Result) error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	now := j.UpdatedAt
	j.Result = res
	j.Error = ""
	j.CompletedAt = &now
	return nil
}

// Fail moves the job to failed with reason.
func (j *Job) Fail(reason string) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	j.Error = reason
	j.Result = nil
	return nil
}

// Progress is the polling progress percentage.
func (j *Job) Progress() int {
	switch j.Status {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 50
	default:
		return 100
	}
}

// UploadedPhotos returns the attached roles in first-upload order.
func (j *Job) UploadedPhotos() []string {
	out := make([]string, 0, len(j.UploadOrder))
	for _, r := range j.UploadOrder {
		out = append(out, string(r))
	}
	return out
}

// AggregationInput converts the stored scores for the aggregation engine.
func (j *Job) AggregationInput() aggregate.Input {
	scores := make(map[string]float64, len(j.Scores))
	for r, s := range j.Scores {
		scores[string(r)] = s
	}
	matches := make(map[string][]vectordb.Match, len(j.Matches))
	for r, m := range j.Matches {
		matches[string(r)] = m
	}
	return aggregate.Input{
		ScanID:         j.ID.String(),
		Scores:         scores,
		Matches:        matches,
		UploadedPhotos: j.UploadedPhotos(),
	}
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	c.Photos = make(map[Role]string, len(j.Photos))
	for k, v := range j.Photos {
		c.Photos[k] = v
	}
	c.UploadOrder = append([]Role{}, j.UploadOrder...)
	c.Scores = make(map[Role]float64, len(j.Scores))
	for k, v := range j.Scores {
		c.Scores[k] = v
	}
	c.Matches = make(map[Role][]vectordb.Match, len(j.Matches))
	for k, v := range j.Matches {
		c.Matches[k] = append([]vectordb.Match(nil), v...)
	}
	c.Result = j.Result.Clone()
	return &c
}
