package feed

// Recipient is the display metadata known for a counterparty address.
type Recipient struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName"`
	E164Number  string `json:"e164Number,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// RecipientLookup resolves counterparty display metadata. Implementations
// must be safe for concurrent use.
type RecipientLookup interface {
	LookupRecipient(address string) (Recipient, bool)
}

// RecipientMap is an in-memory RecipientLookup keyed by address.
type RecipientMap map[string]Recipient

func (m RecipientMap) LookupRecipient(address string) (Recipient, bool) {
	r, ok := m[address]
	return r, ok
}

// Action is a call to action attached to a feed item.
type Action struct {
	Label     string `json:"label"`
	Secondary bool   `json:"secondary,omitempty"`
}

// Item is the view model of one rendered feed row.
type Item struct {
	Key       string     `json:"key"`
	Hash      string     `json:"hash"`
	Strategy  Strategy   `json:"strategy"`
	Title     string     `json:"title"`
	Subtitle  string     `json:"subtitle,omitempty"`
	Amount    Amount     `json:"amount"`
	Status    Status     `json:"status"`
	Timestamp int64      `json:"timestamp"`
	Recipient *Recipient `json:"recipient,omitempty"`
	Actions   []Action   `json:"actions,omitempty"`
}

// BuildItem renders a record with the strategy SelectStrategy picks for it.
// recipients may be nil.
func BuildItem(r Record, c Context, recipients RecipientLookup) Item {
	item := Item{
		Key:       Key(r),
		Hash:      r.Hash,
		Strategy:  SelectStrategy(r, c),
		Status:    r.Status,
		Timestamp: r.Timestamp.UnixMilli(),
	}

	switch item.Strategy {
	case StrategyTransfer:
		renderTransfer(&item, r.Transfer, recipients)
	case StrategyCeloTransfer:
		renderCeloTransfer(&item, r.Transfer)
	case StrategyExchangeSummary:
		renderExchangeSummary(&item, r.Exchange)
	case StrategyGoldExchange:
		renderGoldExchange(&item, r.Exchange)
	}

	return item
}

// BuildItems renders records in order.
func BuildItems(records []Record, c Context, recipients RecipientLookup) []Item {
	items := make([]Item, len(records))
	for i, r := range records {
		items[i] = BuildItem(r, c, recipients)
	}
	return items
}

func renderTransfer(item *Item, t *Transfer, recipients RecipientLookup) {
	if t == nil {
		return
	}
	item.Amount = t.Amount
	item.Subtitle = t.Comment

	var name string
	if recipients != nil {
		if rec, ok := recipients.LookupRecipient(t.Address); ok {
			item.Recipient = &rec
			name = rec.DisplayName
		}
	}
	if name == "" {
		name = shortAddress(t.Address)
	}

	switch t.Type {
	case TransferFaucet:
		item.Title = "Faucet"
	case TransferVerificationFee:
		item.Title = "Verification fee"
	case TransferNetworkFee:
		item.Title = "Network fee"
	case TransferInviteSent:
		item.Title = "Invite sent to " + name
	case TransferInviteReceived:
		item.Title = "Invite from " + name
	case TransferEscrowSent:
		item.Title = "Escrowed payment to " + name
	case TransferEscrowReceived:
		item.Title = "Escrowed payment from " + name
	case TransferPayRequest:
		item.Title = "Payment request from " + name
		if item.Status == StatusPending {
			item.Actions = []Action{
				{Label: "Pay"},
				{Label: "Decline", Secondary: true},
			}
		}
	default:
		item.Title = name
	}
}

func renderCeloTransfer(item *Item, t *Transfer) {
	if t == nil {
		return
	}
	item.Amount = t.Amount
	if t.Amount.Outgoing() {
		item.Title = "Sent"
	} else {
		item.Title = "Received"
	}
}

func renderExchangeSummary(item *Item, e *Exchange) {
	if e == nil {
		return
	}
	item.Amount = e.Amount
	item.Title = "Exchange"
	item.Subtitle = e.TakerAmount.CurrencyCode + " to " + e.MakerAmount.CurrencyCode
}

func renderGoldExchange(item *Item, e *Exchange) {
	if e == nil {
		return
	}
	item.Amount = e.Amount
	if e.Amount.Outgoing() {
		item.Title = "Sold"
	} else {
		item.Title = "Bought"
	}
	item.Subtitle = e.TakerAmount.String() + " for " + e.MakerAmount.String()
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
