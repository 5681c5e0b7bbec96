// Package data provides the in-memory bar store the API and backtester
// read from. Bars per symbol are kept ascending by timestamp and
// deduplicated on ingest; readers always see an ordered series.
package data

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/pkg/types"
	"github.com/keplerlabs/quant-core/pkg/utils"
)

// Store holds bar history keyed by symbol.
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger
	bars   map[string][]types.OHLCV
}

// SymbolMetadata describes the available history for a symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	Base      string    `json:"base,omitempty"`
	Quote     string    `json:"quote,omitempty"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		logger: logger,
		bars:   make(map[string][]types.OHLCV),
	}
}

// Put ingests bars for a symbol, merging them with any existing history.
// Bars sharing a timestamp with an existing bar replace it; the stored
// series stays sorted ascending. Symbols are normalized to BASE/QUOTE form.
func (s *Store) Put(symbol string, bars []types.OHLCV) error {
	if symbol == "" {
		return fmt.Errorf("data store: symbol is required")
	}
	symbol = utils.FormatSymbol(symbol)
	if len(bars) == 0 {
		return fmt.Errorf("data store: no bars for %s", symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byTime := make(map[int64]types.OHLCV, len(s.bars[symbol])+len(bars))
	for _, b := range s.bars[symbol] {
		byTime[b.Timestamp.UnixNano()] = b
	}
	for _, b := range bars {
		b.Symbol = symbol
		byTime[b.Timestamp.UnixNano()] = b
	}

	merged := make([]types.OHLCV, 0, len(byTime))
	for _, b := range byTime {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	s.bars[symbol] = merged

	s.logger.Debug("bars ingested",
		zap.String("symbol", symbol),
		zap.Int("ingested", len(bars)),
		zap.Int("total", len(merged)),
	)
	return nil
}

// Get returns the full bar history for a symbol, or an error if none is
// loaded. The returned slice is a copy.
func (s *Store) Get(symbol string) ([]types.OHLCV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars, ok := s.bars[utils.FormatSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("data store: no data for %s", symbol)
	}
	out := make([]types.OHLCV, len(bars))
	copy(out, bars)
	return out, nil
}

// Range returns bars whose timestamps fall inside the window, inclusive.
func (s *Store) Range(symbol string, window utils.TimeRange) ([]types.OHLCV, error) {
	bars, err := s.Get(symbol)
	if err != nil {
		return nil, err
	}

	out := bars[:0:0]
	for _, b := range bars {
		if window.Contains(b.Timestamp) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Symbols returns the loaded symbols sorted lexically.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.bars))
	for sym := range s.bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Metadata summarizes the stored history for a symbol.
func (s *Store) Metadata(symbol string) (*SymbolMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbol = utils.FormatSymbol(symbol)
	bars, ok := s.bars[symbol]
	if !ok || len(bars) == 0 {
		return nil, fmt.Errorf("data store: no data for %s", symbol)
	}
	base, quote := utils.ParseSymbol(symbol)
	return &SymbolMetadata{
		Symbol:    symbol,
		Base:      base,
		Quote:     quote,
		StartDate: bars[0].Timestamp,
		EndDate:   bars[len(bars)-1].Timestamp,
		BarCount:  len(bars),
	}, nil
}
