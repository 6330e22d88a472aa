// Package limits computes the raise-daily-limit screen: the wallet's daily
// send limit, what is left of it today, and the state of its application to
// raise the limit.
package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/metrics"
	"github.com/shopspring/decimal"
)

// Status is the state of a raise-limit application.
type Status string

const (
	StatusNone       Status = ""
	StatusInReview   Status = "InReview"
	StatusIncomplete Status = "Incomplete"
	StatusDenied     Status = "Denied"
	StatusApproved   Status = "Approved"
)

// ErrUnknownStatus is returned when parsing a status outside the closed set.
var ErrUnknownStatus = errors.New("unknown limit request status")

// ParseStatus parses a stored application status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusInReview, StatusIncomplete, StatusDenied, StatusApproved:
		return st, nil
	}
	return StatusNone, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// UnlimitedThreshold is the daily limit above which a wallet is treated as
// having no limit at all.
var UnlimitedThreshold = decimal.NewFromInt(99999999)

// Action is what the screen's button does.
type Action string

const (
	ActionVerifyNumber     Action = "verify_number"
	ActionBeginApplication Action = "begin_application"
)

// Button is the call to action of the screen. Nil when there is nothing to do.
type Button struct {
	Label  string `json:"label"`
	Action Action `json:"action"`
}

// Application describes the wallet's current application.
type Application struct {
	Status      Status `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Screen is the raise-limit screen state.
type Screen struct {
	Address     string          `json:"address"`
	DailyLimit  decimal.Decimal `json:"dailyLimit"`
	Currency    string          `json:"currency"`
	Unlimited   bool            `json:"unlimited"`
	Remaining   decimal.Decimal `json:"remaining"`
	Application *Application    `json:"application,omitempty"`
	Button      *Button         `json:"button,omitempty"`
}

var applications = map[Status]Application{
	StatusInReview: {
		Status:      StatusInReview,
		Title:       "Application in review",
		Description: "We are reviewing your application. This usually takes a few days.",
		Icon:        "in-progress",
	},
	StatusIncomplete: {
		Status:      StatusIncomplete,
		Title:       "Application incomplete",
		Description: "Your application is missing information. Resume it to continue.",
		Icon:        "denied",
	},
	StatusDenied: {
		Status:      StatusDenied,
		Title:       "Application denied",
		Description: "Your application was not approved. You can apply again.",
		Icon:        "denied",
	},
	StatusApproved: {
		Status:      StatusApproved,
		Title:       "Application completed",
		Description: "Your daily limit has been raised.",
		Icon:        "approved",
	},
}

// Input holds everything the screen depends on.
type Input struct {
	Address        string
	DailyLimit     decimal.Decimal
	Currency       string
	Status         Status
	NumberVerified bool
	// SpentToday is the absolute amount sent in the last 24 hours.
	SpentToday decimal.Decimal
}

// Compute builds the screen. A limit above UnlimitedThreshold implies an
// approved application whatever the stored status says.
func Compute(in Input) Screen {
	status := EffectiveStatus(in.Status, in.DailyLimit)

	s := Screen{
		Address:    in.Address,
		DailyLimit: in.DailyLimit,
		Currency:   in.Currency,
		Unlimited:  in.DailyLimit.GreaterThan(UnlimitedThreshold),
		Remaining:  Remaining(in.DailyLimit, in.SpentToday),
	}
	if app, ok := applications[status]; ok {
		s.Application = &app
	}
	s.Button = button(status, in.NumberVerified)
	return s
}

// EffectiveStatus returns the status the screen should show.
func EffectiveStatus(stored Status, dailyLimit decimal.Decimal) Status {
	if stored != StatusApproved && dailyLimit.GreaterThan(UnlimitedThreshold) {
		return StatusApproved
	}
	return stored
}

// Remaining is what is left of the daily limit, never negative.
func Remaining(dailyLimit, spent decimal.Decimal) decimal.Decimal {
	left := dailyLimit.Sub(spent.Abs())
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

func button(status Status, numberVerified bool) *Button {
	switch status {
	case StatusInReview, StatusApproved:
		return nil
	case StatusIncomplete:
		return &Button{Label: "Resume application", Action: beginOrVerify(numberVerified)}
	case StatusNone:
		if !numberVerified {
			return &Button{Label: "Confirm your number", Action: ActionVerifyNumber}
		}
	}
	return &Button{Label: "Begin application", Action: beginOrVerify(numberVerified)}
}

func beginOrVerify(numberVerified bool) Action {
	if numberVerified {
		return ActionBeginApplication
	}
	return ActionVerifyNumber
}

// Store is the persistence the service needs.
type Store interface {
	GetLimitRequest(ctx context.Context, address string) (*db.LimitRequest, error)
	PutLimitRequest(ctx context.Context, address, status string) (*db.LimitRequest, error)
	SumOutgoingSince(ctx context.Context, wallet, currency string, since time.Time) (decimal.Decimal, error)
}

// ErrNumberNotVerified is returned when applying without a verified number.
var ErrNumberNotVerified = errors.New("phone number is not verified")

// ErrAlreadyApplied is returned when an application is in review or approved.
var ErrAlreadyApplied = errors.New("application already submitted")

// Service reads and updates raise-limit applications.
type Service struct {
	store      Store
	dailyLimit decimal.Decimal
	currency   string
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a limits service. m may be nil.
func NewService(store Store, dailyLimit decimal.Decimal, currency string, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		dailyLimit: dailyLimit,
		currency:   currency,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Screen loads the raise-limit screen for a wallet.
func (s *Service) Screen(ctx context.Context, address string, numberVerified bool) (Screen, error) {
	status, err := s.status(ctx, address)
	if err != nil {
		return Screen{}, err
	}

	spent, err := s.store.SumOutgoingSince(ctx, address, s.currency, s.now().Add(-24*time.Hour))
	if err != nil {
		return Screen{}, fmt.Errorf("failed to sum recent payments: %w", err)
	}

	return Compute(Input{
		Address:        address,
		DailyLimit:     s.dailyLimit,
		Currency:       s.currency,
		Status:         status,
		NumberVerified: numberVerified,
		SpentToday:     spent,
	}), nil
}

// Apply records a raise-limit application as in review.
func (s *Service) Apply(ctx context.Context, address string, numberVerified bool) (Screen, error) {
	if !numberVerified {
		return Screen{}, ErrNumberNotVerified
	}

	status, err := s.status(ctx, address)
	if err != nil {
		return Screen{}, err
	}
	switch EffectiveStatus(status, s.dailyLimit) {
	case StatusInReview, StatusApproved:
		return Screen{}, ErrAlreadyApplied
	}

	if _, err := s.store.PutLimitRequest(ctx, address, string(StatusInReview)); err != nil {
		return Screen{}, err
	}
	s.metrics.RecordLimitRequest(string(StatusInReview))
	s.logger.InfoContext(ctx, "raise limit request submitted", "address", address)

	return s.Screen(ctx, address, numberVerified)
}

func (s *Service) status(ctx context.Context, address string) (Status, error) {
	req, err := s.store.GetLimitRequest(ctx, address)
	if errors.Is(err, db.ErrNotFound) {
		return StatusNone, nil
	}
	if err != nil {
		return StatusNone, err
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring stored limit request status", "address", address, "error", err)
		return StatusNone, nil
	}
	return status, nil
}
