package feed

import (
	"fmt"
	"log/slog"
	"time"
)

// Tag identifies the presenter in sink calls.
const Tag = "transactions/TransactionFeed"

// State is what the user sees for one evaluation of the feed.
type State int

const (
	StateLoading State = iota
	StateEmpty
	StateSectioned
	StateFlat
)

var stateNames = [...]string{
	StateLoading:   "loading",
	StateEmpty:     "empty",
	StateSectioned: "sectioned",
	StateFlat:      "flat",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = State(st)
			return nil
		}
	}
	return fmt.Errorf("feed: unknown state %q", text)
}

// Sink receives fetch failures. It is fire-and-forget.
type Sink func(tag, message string, err error)

// SlogSink adapts a logger into a Sink.
func SlogSink(logger *slog.Logger) Sink {
	return func(tag, message string, err error) {
		logger.Error(message, "tag", tag, "error", err)
	}
}

// Presentation is the outcome of Present.
type Presentation struct {
	State   State
	Context Context

	// Loading and Err are carried on every state so an empty placeholder can
	// tell a spinner from "no activity".
	Loading bool
	Err     error

	Sections []Section // StateSectioned
	Records  []Record  // StateFlat
}

// Presenter decides what the feed shows for a (loading, err, records) tuple.
// It holds only its injected sink and clock and is safe for concurrent use.
type Presenter struct {
	sink Sink
	now  func() time.Time
}

// PresenterOption configures a Presenter.
type PresenterOption func(*Presenter)

// WithClock overrides the clock used for sectioning.
func WithClock(now func() time.Time) PresenterOption {
	return func(p *Presenter) {
		p.now = now
	}
}

// NewPresenter creates a Presenter. A nil sink discards errors.
func NewPresenter(sink Sink, opts ...PresenterOption) *Presenter {
	if sink == nil {
		sink = func(string, string, error) {}
	}
	p := &Presenter{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Present evaluates one snapshot. A nil records slice means the data has not
// arrived; an empty non-nil slice means it arrived and is empty. A non-nil
// err is reported to the sink and never suppresses available records.
func (p *Presenter) Present(c Context, loading bool, err error, records []Record) Presentation {
	if err != nil {
		p.sink(Tag, "Failure while loading transaction feed", err)
	}

	out := Presentation{Context: c, Loading: loading, Err: err}

	switch {
	case records == nil && loading:
		out.State = StateLoading
		return out
	case len(records) == 0:
		out.State = StateEmpty
		return out
	}

	switch c {
	case ContextHome:
		out.State = StateSectioned
		out.Sections = Group(records, p.now())
	case ContextExchangeDetail:
		out.State = StateFlat
		out.Records = records
	default:
		panic(&UnhandledVariantError{Kind: records[0].Kind, Context: c})
	}
	return out
}
