package delivery

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPermanent marks a job that cannot succeed on retry.
	ErrPermanent = errors.New("permanent delivery failure")

	// ErrNotFound is returned by a Store when a referenced record is gone.
	ErrNotFound = errors.New("delivery record not found")
)

// permanentError carries the reason a send can never be delivered.
type permanentError struct{ reason string }

func (e *permanentError) Error() string        { return e.reason }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent returns an error that wraps ErrPermanent and reads as reason.
func Permanent(reason string) error { return &permanentError{reason: reason} }

// Job is one unit of queued work: deliver one CampaignSend.
type Job struct {
	ID             string    `json:"id"`
	CampaignSendID string    `json:"campaign_send_id"`
	TriggeredBy    string    `json:"triggered_by,omitempty"`
	Attempt        int       `json:"attempt"` // attempts already made
	EnqueuedAt     time.Time `json:"enqueued_at"`

	raw string // payload as claimed, used to ack
}

// NewJob creates a fresh job for a send.
func NewJob(sendID, triggeredBy string, now time.Time) Job {
	return Job{
		ID:             uuid.New().String(),
		CampaignSendID: sendID,
		TriggeredBy:    triggeredBy,
		EnqueuedAt:     now,
	}
}

func (j Job) encode() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, err
	}
	j.raw = raw
	return &j, nil
}
