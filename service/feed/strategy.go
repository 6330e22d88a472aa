package feed

import (
	"fmt"
	"strconv"
)

// Strategy names the renderer used for one feed item.
type Strategy int

const (
	strategyUnset Strategy = iota

	// StrategyTransfer shows counterparty, comment and amount.
	StrategyTransfer
	// StrategyCeloTransfer shows amount and direction only.
	StrategyCeloTransfer
	// StrategyExchangeSummary shows a one-line exchange summary.
	StrategyExchangeSummary
	// StrategyGoldExchange shows the exchange from the gold-detail perspective.
	StrategyGoldExchange
)

var strategyNames = map[Strategy]string{
	StrategyTransfer:        "transfer",
	StrategyCeloTransfer:    "celo-transfer",
	StrategyExchangeSummary: "exchange-summary",
	StrategyGoldExchange:    "gold-exchange",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "Strategy(" + strconv.Itoa(int(s)) + ")"
}

func (s Strategy) MarshalText() ([]byte, error) {
	name, ok := strategyNames[s]
	if !ok {
		return nil, fmt.Errorf("feed: unknown strategy %d", int(s))
	}
	return []byte(name), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	for st, name := range strategyNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("feed: unknown strategy %q", text)
}

// strategyTable maps every (kind, context) pair to a renderer. Its dimensions
// follow the closed kind and context sets, so adding a kind without a row
// leaves zero cells that init rejects.
var strategyTable = [numKinds][numContexts]Strategy{
	KindTokenTransfer: {
		ContextHome:           StrategyTransfer,
		ContextExchangeDetail: StrategyCeloTransfer,
	},
	KindTokenExchange: {
		ContextHome:           StrategyExchangeSummary,
		ContextExchangeDetail: StrategyGoldExchange,
	},
}

func init() {
	for k := range strategyTable {
		for c := range strategyTable[k] {
			if strategyTable[k][c] == strategyUnset {
				panic(fmt.Sprintf("feed: no render strategy for %s in %s feed", Kind(k), Context(c)))
			}
		}
	}
}

// UnhandledVariantError reports a (kind, context) pair outside the dispatch
// table. It means the data source and the renderer set have drifted apart.
type UnhandledVariantError struct {
	Kind    Kind
	Context Context
}

func (e *UnhandledVariantError) Error() string {
	return fmt.Sprintf("feed: unhandled variant %s in %s feed", e.Kind, e.Context)
}

// SelectStrategy returns the renderer for a record in the given feed context.
// It panics with *UnhandledVariantError for a kind or context outside the
// closed sets; ParseKind and ParseContext keep such values out at the edges.
func SelectStrategy(r Record, c Context) Strategy {
	if !r.Kind.Valid() || !c.Valid() {
		panic(&UnhandledVariantError{Kind: r.Kind, Context: c})
	}
	return strategyTable[r.Kind][c]
}
