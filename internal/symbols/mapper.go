// Package symbols maps universal symbols to broker symbols and classifies
// instruments into asset classes. The default table covers the instruments
// the scalping agents trade; broker-specific suffixes are configurable.
package symbols

import (
	"strings"
	"sync"
)

// AssetClass buckets an instrument for policy decisions.
type AssetClass string

const (
	// AssetClassForex covers currency pairs.
	AssetClassForex AssetClass = "forex"
	// AssetClassCommodities covers metals and energy.
	AssetClassCommodities AssetClass = "commodities"
	// AssetClassCrypto covers crypto CFDs.
	AssetClassCrypto AssetClass = "crypto"
)

type entry struct {
	broker string
	class  AssetClass
}

// defaultTable maps universal symbols to the broker's MT4 symbol names.
var defaultTable = map[string]entry{
	"BTCUSDT": {"BTCUSD", AssetClassCrypto},
	"ETHUSDT": {"ETHUSD", AssetClassCrypto},
	"XAUUSDT": {"XAUUSD", AssetClassCommodities},
	"XAGUSDT": {"XAGUSD", AssetClassCommodities},
	"EURUSDT": {"EURUSD", AssetClassForex},
	"GBPUSDT": {"GBPUSD", AssetClassForex},
	"USDJPY":  {"USDJPY", AssetClassForex},
	"EURUSD":  {"EURUSD", AssetClassForex},
	"GBPUSD":  {"GBPUSD", AssetClassForex},
	"XAUUSD":  {"XAUUSD", AssetClassCommodities},
	"BTCUSD":  {"BTCUSD", AssetClassCrypto},
	"ETHUSD":  {"ETHUSD", AssetClassCrypto},
}

// Mapper is a static symbol mapping service. Suffix is appended to every
// broker symbol for brokers that decorate instrument names (e.g. ".r").
type Mapper struct {
	mu     sync.RWMutex
	table  map[string]entry
	suffix string
}

// NewMapper builds a mapper from the default table.
func NewMapper(brokerSuffix string) *Mapper {
	table := make(map[string]entry, len(defaultTable))
	for k, v := range defaultTable {
		table[k] = v
	}
	return &Mapper{table: table, suffix: brokerSuffix}
}

// BrokerSymbol resolves a universal symbol to the broker's symbol name.
// ok is false when the broker does not list the instrument.
func (m *Mapper) BrokerSymbol(universal string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.table[strings.ToUpper(strings.TrimSpace(universal))]
	if !ok {
		return "", false
	}
	return e.broker + m.suffix, true
}

// ClassOf classifies a universal symbol. Unknown symbols default to crypto,
// the asset class the scalping agents trade.
func (m *Mapper) ClassOf(universal string) AssetClass {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.table[strings.ToUpper(strings.TrimSpace(universal))]; ok {
		return e.class
	}
	return AssetClassCrypto
}

// Register adds or overrides a mapping at runtime.
func (m *Mapper) Register(universal, broker string, class AssetClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table[strings.ToUpper(strings.TrimSpace(universal))] = entry{broker: broker, class: class}
}
