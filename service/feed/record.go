package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownKind is returned when a record carries a variant tag outside the closed set.
	ErrUnknownKind = errors.New("feed: unknown transaction kind")
	// ErrUnknownStatus is returned for an unrecognized lifecycle tag.
	ErrUnknownStatus = errors.New("feed: unknown transaction status")
	// ErrUnknownContext is returned for an unrecognized feed context.
	ErrUnknownContext = errors.New("feed: unknown feed context")
	// ErrUnknownTransferType is returned for a transfer outside the known flavours.
	ErrUnknownTransferType = errors.New("feed: unknown transfer type")
)

// Kind is the variant tag of a transaction record.
type Kind int

const (
	KindTokenTransfer Kind = iota
	KindTokenExchange

	numKinds
)

var kindNames = [numKinds]string{
	KindTokenTransfer: "TokenTransfer",
	KindTokenExchange: "TokenExchange",
}

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

// ParseKind converts a wire tag into a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(kindNames[k]), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Status is the lifecycle tag of a record. Pending records are optimistic
// "standby" entries that the chain has not confirmed yet.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusComplete Status = "Complete"
	StatusFailed   Status = "Failed"
)

// ParseStatus converts a wire tag into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusComplete, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Context selects the dispatch column and whether sectioning applies.
type Context int

const (
	ContextHome Context = iota
	ContextExchangeDetail

	numContexts
)

var contextNames = [numContexts]string{
	ContextHome:           "home",
	ContextExchangeDetail: "exchange",
}

func (c Context) String() string {
	if c.Valid() {
		return contextNames[c]
	}
	return "Context(" + strconv.Itoa(int(c)) + ")"
}

// Valid reports whether c is a known feed context.
func (c Context) Valid() bool {
	return c >= 0 && c < numContexts
}

// ParseContext converts "home" or "exchange" into a Context.
func ParseContext(s string) (Context, error) {
	for c, name := range contextNames {
		if name == s {
			return Context(c), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownContext, s)
}

func (c Context) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownContext, int(c))
	}
	return []byte(contextNames[c]), nil
}

func (c *Context) UnmarshalText(text []byte) error {
	parsed, err := ParseContext(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TransferType distinguishes the flavours of a token transfer.
type TransferType string

const (
	TransferSent            TransferType = "SENT"
	TransferReceived        TransferType = "RECEIVED"
	TransferEscrowSent      TransferType = "ESCROW_SENT"
	TransferEscrowReceived  TransferType = "ESCROW_RECEIVED"
	TransferFaucet          TransferType = "FAUCET"
	TransferVerificationFee TransferType = "VERIFICATION_FEE"
	TransferInviteSent      TransferType = "INVITE_SENT"
	TransferInviteReceived  TransferType = "INVITE_RECEIVED"
	TransferPayRequest      TransferType = "PAY_REQUEST"
	TransferNetworkFee      TransferType = "NETWORK_FEE"
)

// Valid reports whether t is one of the known transfer flavours.
func (t TransferType) Valid() bool {
	switch t {
	case TransferSent, TransferReceived, TransferEscrowSent, TransferEscrowReceived,
		TransferFaucet, TransferVerificationFee, TransferInviteSent, TransferInviteReceived,
		TransferPayRequest, TransferNetworkFee:
		return true
	}
	return false
}

// Amount is a signed token amount. Negative values are outgoing.
type Amount struct {
	Value        decimal.Decimal `json:"value"`
	CurrencyCode string          `json:"currencyCode"`
}

// Outgoing reports whether the amount leaves the wallet.
func (a Amount) Outgoing() bool {
	return a.Value.IsNegative()
}

func (a Amount) String() string {
	return a.Value.StringFixed(2) + " " + a.CurrencyCode
}

// Transfer is the payload of a TokenTransfer record.
type Transfer struct {
	Type    TransferType `json:"type"`
	Address string       `json:"address"`
	Comment string       `json:"comment,omitempty"`
	Amount  Amount       `json:"amount"`
}

// Exchange is the payload of a TokenExchange record.
type Exchange struct {
	Amount      Amount `json:"amount"`
	MakerAmount Amount `json:"makerAmount"`
	TakerAmount Amount `json:"takerAmount"`
}

// Record is one transaction as produced by the data source. The presentation
// layer treats records as immutable values.
type Record struct {
	Kind      Kind
	Hash      string
	Timestamp time.Time
	Status    Status

	// Exactly one of Transfer or Exchange is set, matching Kind.
	Transfer *Transfer
	Exchange *Exchange
}

// Key returns the stable list key of a record.
func Key(r Record) string {
	return r.Hash + strconv.FormatInt(r.Timestamp.UnixMilli(), 10)
}

// Validate checks that the payload matches the variant tag.
func (r Record) Validate() error {
	if r.Hash == "" {
		return errors.New("feed: record hash is required")
	}
	if _, err := ParseStatus(string(r.Status)); err != nil {
		return err
	}
	switch r.Kind {
	case KindTokenTransfer:
		if r.Transfer == nil || r.Exchange != nil {
			return fmt.Errorf("feed: record %s: TokenTransfer requires a transfer payload", r.Hash)
		}
		if !r.Transfer.Type.Valid() {
			return fmt.Errorf("%w: record %s: %q", ErrUnknownTransferType, r.Hash, r.Transfer.Type)
		}
	case KindTokenExchange:
		if r.Exchange == nil || r.Transfer != nil {
			return fmt.Errorf("feed: record %s: TokenExchange requires an exchange payload", r.Hash)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(r.Kind))
	}
	return nil
}

// recordOut is the encoded form of a Record. Both payloads have an "amount"
// field, so they are nested rather than flattened.
type recordOut struct {
	Kind      Kind      `json:"__typename"`
	Hash      string    `json:"hash"`
	Timestamp int64     `json:"timestamp"`
	Status    Status    `json:"status"`
	Transfer  *Transfer `json:"transfer,omitempty"`
	Exchange  *Exchange `json:"exchange,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordOut{
		Kind:      r.Kind,
		Hash:      r.Hash,
		Timestamp: r.Timestamp.UnixMilli(),
		Status:    r.Status,
		Transfer:  r.Transfer,
		Exchange:  r.Exchange,
	})
}

// UnmarshalJSON accepts both the nested form produced by MarshalJSON and the
// flat GraphQL fragment form, where payload fields sit next to __typename.
// The __typename tag is required.
func (r *Record) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind      *Kind           `json:"__typename"`
		Hash      string          `json:"hash"`
		Timestamp json.RawMessage `json:"timestamp"`
		Status    Status          `json:"status"`
		Transfer  *Transfer       `json:"transfer"`
		Exchange  *Exchange       `json:"exchange"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Kind == nil {
		return fmt.Errorf("%w: missing __typename", ErrUnknownKind)
	}

	ts, err := ParseTimestamp(head.Timestamp)
	if err != nil {
		return fmt.Errorf("feed: record %s: %w", head.Hash, err)
	}

	out := Record{
		Kind:      *head.Kind,
		Hash:      head.Hash,
		Timestamp: ts,
		Status:    head.Status,
		Transfer:  head.Transfer,
		Exchange:  head.Exchange,
	}
	if out.Status == "" {
		out.Status = StatusComplete
	}

	if out.Transfer == nil && out.Exchange == nil {
		switch out.Kind {
		case KindTokenTransfer:
			var t Transfer
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			out.Transfer = &t
		case KindTokenExchange:
			var e Exchange
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			out.Exchange = &e
		}
	}

	if err := out.Validate(); err != nil {
		return err
	}
	*r = out
	return nil
}

// Epoch-millisecond bounds accepted by ParseTimestamp: years 1 through 9999.
var (
	minTimestampMillis = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	maxTimestampMillis = time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC).UnixMilli()
)

// ParseTimestamp decodes a JSON timestamp given either as epoch milliseconds
// or as an RFC3339 string.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errors.New("timestamp is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return millisToTime(ms)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		return t, nil
	}
	if ms, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return millisToTime(ms)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s: %w", raw, err)
	}
	// NaN fails both comparisons.
	if !(f >= float64(minTimestampMillis) && f <= float64(maxTimestampMillis)) {
		return time.Time{}, fmt.Errorf("timestamp %s out of range", raw)
	}
	return millisToTime(int64(f))
}

func millisToTime(ms int64) (time.Time, error) {
	if ms < minTimestampMillis || ms > maxTimestampMillis {
		return time.Time{}, fmt.Errorf("timestamp %d out of range", ms)
	}
	return time.UnixMilli(ms).UTC(), nil
}
