// Package session persists completed practice attempts per identity and
// derives practice progress from them.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/snarg/speechprep/internal/feedback"
)

// DefaultLimit is how many records are kept per identity.
const DefaultLimit = 20

// ErrInvalidRecord is returned when a record fails validation on save.
var ErrInvalidRecord = errors.New("invalid session record")

// GuestKey is the storage key for unauthenticated users without a device id.
const GuestKey = "guest"

// userKeyPrefix namespaces signed-in users in the local backend, which also
// holds guest history.
const userKeyPrefix = "user:"

// Identity is who a session belongs to. An empty UserID is a guest.
type Identity struct {
	UserID   string
	DeviceID string
}

// Authenticated reports whether the identity is a signed-in user.
func (i Identity) Authenticated() bool { return i.UserID != "" }

// Key is the hosted store discriminant: the user id, "guest", or
// "guest:<device>".
func (i Identity) Key() string {
	if i.UserID != "" {
		return i.UserID
	}
	if d := strings.TrimSpace(i.DeviceID); d != "" {
		return GuestKey + ":" + d
	}
	return GuestKey
}

// LocalKey is the local backend discriminant. User ids are prefixed so that
// a user named "guest" can never share a guest's history.
func (i Identity) LocalKey() string {
	if i.UserID != "" {
		return userKeyPrefix + i.UserID
	}
	return i.Key()
}

// Record is one completed practice attempt. Immutable once saved.
type Record struct {
	ID               string             `json:"id"`
	CreatedAt        time.Time          `json:"createdAt"`
	Mode             feedback.Mode      `json:"mode"`
	Transcript       string             `json:"transcript"`
	Feedback         *feedback.Feedback `json:"feedback"`
	Script           string             `json:"script,omitempty"`
	ScriptTone       string             `json:"scriptTone,omitempty"`
	Topic            string             `json:"topic,omitempty"`
	TimeLimitSeconds *float64           `json:"timeLimitSeconds,omitempty"`
	ElapsedSeconds   *float64           `json:"elapsedSeconds,omitempty"`
}

// Overall returns the record's overall score, or false if it has no feedback.
func (r *Record) Overall() (float64, bool) {
	if r.Feedback == nil {
		return 0, false
	}
	return r.Feedback.Scores.Overall, true
}

// Validate checks the fields a caller must supply.
func (r *Record) Validate() error {
	if !r.Mode.Valid() {
		return errors.Join(ErrInvalidRecord, errors.New("mode must be script or topic"))
	}
	if strings.TrimSpace(r.Transcript) == "" {
		return errors.Join(ErrInvalidRecord, errors.New("transcript is required"))
	}
	if r.Feedback == nil {
		return errors.Join(ErrInvalidRecord, errors.New("feedback is required"))
	}
	return nil
}

// Backend stores records under an identity key. Implementations need not
// enforce the retention cap; Store does that.
type Backend interface {
	Name() string
	Insert(ctx context.Context, key string, rec Record) error
	// List returns at most limit records, most recent first.
	List(ctx context.Context, key string, limit int) ([]Record, error)
	// Prune deletes all but the keep most recent records and returns the
	// number removed.
	Prune(ctx context.Context, key string, keep int) (int, error)
}
