package weight

import (
	"errors"
	"fmt"
	"time"

	"github.com/burenotti/healthlog/internal/domain"
)

const EntityName = "weight"

// MaxPeriodDays bounds "last N days" queries to timestamps storage can represent.
const MaxPeriodDays = 100 * 366

var (
	ErrIDExists       = errors.New("a new weight cannot already have an ID")
	ErrWeightNotFound = errors.New("weight not found")
	ErrOwnerNotFound  = errors.New("weight owner not found")
	ErrInvalidPeriod  = fmt.Errorf("number of days must be between 0 and %d", MaxPeriodDays)
)

const (
	EventCreated = "weight.created"
	EventUpdated = "weight.updated"
	EventDeleted = "weight.deleted"
)

// SortFields maps sortable JSON attributes to their storage column.
var SortFields = map[string]string{
	"id":       "w.id",
	"dateTime": "w.date_time",
	"value":    "w.value",
}

type Weight struct {
	domain.Aggregate
	ID         int64
	DateTime   time.Time
	Value      float64
	UserID     *int64
	OwnerLogin string
}

func New(dateTime time.Time, value float64) *Weight {
	return &Weight{
		DateTime: dateTime.UTC(),
		Value:    value,
	}
}

func (w *Weight) HasOwner() bool {
	return w.UserID != nil
}

func (w *Weight) AssignOwner(userID int64, login string) {
	w.UserID = &userID
	w.OwnerLogin = login
}

func (w *Weight) ClearOwner() {
	w.UserID = nil
	w.OwnerLogin = ""
}

// MarkCreated records the identity assigned by storage.
func (w *Weight) MarkCreated(id int64) {
	w.ID = id
	w.PushEvent(w.event(EventCreated))
}

func (w *Weight) MarkUpdated() {
	w.PushEvent(w.event(EventUpdated))
}

func (w *Weight) String() string {
	return fmt.Sprintf("Weight{id=%d, dateTime=%s, value=%g, owner=%q}",
		w.ID, w.DateTime.Format(time.RFC3339), w.Value, w.OwnerLogin)
}

func (w *Weight) event(kind string) *ChangedEvent {
	return &ChangedEvent{
		Kind:       kind,
		At:         time.Now().UTC(),
		WeightID:   w.ID,
		OwnerLogin: w.OwnerLogin,
		Value:      w.Value,
		DateTime:   w.DateTime,
	}
}

// Filter narrows storage listings. Empty fields match everything.
type Filter struct {
	OwnerLogin string
}

// ByPeriod is the result of a "last N days" query.
type ByPeriod struct {
	Label    string
	Readings []*Weight
}

func PeriodLabel(days int) string {
	return fmt.Sprintf("Last %d Days", days)
}

type ChangedEvent struct {
	Kind       string    `json:"type"`
	At         time.Time `json:"published_at"`
	WeightID   int64     `json:"weight_id"`
	OwnerLogin string    `json:"owner_login,omitempty"`
	Value      float64   `json:"value,omitempty"`
	DateTime   time.Time `json:"date_time,omitempty"`
}

func (e *ChangedEvent) Type() string {
	return e.Kind
}

func (e *ChangedEvent) PublishedAt() time.Time {
	return e.At
}

func NewDeletedEvent(id int64) *ChangedEvent {
	return &ChangedEvent{
		Kind:     EventDeleted,
		At:       time.Now().UTC(),
		WeightID: id,
	}
}
