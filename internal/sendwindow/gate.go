// Package sendwindow decides whether an instant falls inside a recurring
// clock-time window in an IANA timezone.
package sendwindow

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// ErrInvalidWindow is returned by Validate for malformed operator input.
var ErrInvalidWindow = errors.New("invalid send window")

var clockRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Gate evaluates send windows. The zero value is not usable; use New.
type Gate struct {
	now       func() time.Time
	locations sync.Map // tz name -> *time.Location, or nil on load failure
	warned    sync.Map // tz name -> struct{}
	log       *logger.Logger
}

// New creates a Gate reading the wall clock.
func New() *Gate {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Gate with an injected clock.
func NewWithClock(now func() time.Time) *Gate {
	return &Gate{now: now, log: logger.With("component", "sendwindow.Gate")}
}

// Allows reports whether the current instant is inside w.
func (g *Gate) Allows(w *domain.SendWindow) bool {
	return g.AllowsAt(w, g.now())
}

// AllowsAt reports whether t, translated into the window's timezone, falls
// within [Start, End] inclusive. A nil window always allows. An unknown
// timezone fails open.
func (g *Gate) AllowsAt(w *domain.SendWindow, t time.Time) bool {
	if w == nil {
		return true
	}
	loc := g.location(w.Timezone)
	if loc == nil {
		return true
	}
	local := t.In(loc).Format("1504")
	return local >= compact(w.Start) && local <= compact(w.End)
}

func (g *Gate) location(name string) *time.Location {
	if v, ok := g.locations.Load(name); ok {
		loc, _ := v.(*time.Location)
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil || name == "" {
		if _, seen := g.warned.LoadOrStore(name, struct{}{}); !seen {
			g.log.Warn("unknown send window timezone, allowing sends", "timezone", name)
		}
		g.locations.Store(name, (*time.Location)(nil))
		return nil
	}
	g.locations.Store(name, loc)
	return loc
}

// compact turns "09:30" into "0930" so zero-padded times compare as strings.
func compact(hhmm string) string {
	return strings.Replace(strings.TrimSpace(hhmm), ":", "", 1)
}

// Validate checks operator input before a schedule is saved: both times
// must be HH:mm, start must not be after end, and the timezone must load.
func Validate(w *domain.SendWindow) error {
	if w == nil {
		return nil
	}
	if !clockRe.MatchString(w.Start) {
		return fmt.Errorf("%w: start %q is not HH:mm", ErrInvalidWindow, w.Start)
	}
	if !clockRe.MatchString(w.End) {
		return fmt.Errorf("%w: end %q is not HH:mm", ErrInvalidWindow, w.End)
	}
	if compact(w.Start) > compact(w.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidWindow, w.Start, w.End)
	}
	if w.Timezone == "" {
		return fmt.Errorf("%w: timezone is required", ErrInvalidWindow)
	}
	if _, err := time.LoadLocation(w.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidWindow, w.Timezone, err)
	}
	return nil
}
