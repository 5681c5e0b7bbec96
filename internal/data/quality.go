package data

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/pkg/types"
	"github.com/keplerlabs/quant-core/pkg/utils"
)

// QualityConfig bounds what counts as suspicious in an ingested series.
type QualityConfig struct {
	MaxBarMove     float64       `json:"maxBarMove"` // close-to-close move flagged as an outlier
	MaxGap         time.Duration `json:"maxGap"`     // spacing beyond this is a gap (0 disables)
	FlagZeroVolume bool          `json:"flagZeroVolume"`
}

// DefaultQualityConfig flags 30% bar moves and zero-volume bars; gap
// detection stays off because bar spacing varies by feed.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{MaxBarMove: 0.30, FlagZeroVolume: true}
}

// QualityIssue describes one suspicious bar.
type QualityIssue struct {
	Type      string    `json:"type"` // outlier_move, gap, zero_volume, bad_ohlc, non_positive
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// QualityReport summarizes the issues found in one series.
type QualityReport struct {
	Symbol string         `json:"symbol"`
	Bars   int            `json:"bars"`
	Issues []QualityIssue `json:"issues,omitempty"`
	Clean  bool           `json:"clean"`
}

// QualityChecker validates bar series before they reach the analyzers. Bad
// data poisons every statistic downstream, so issues are surfaced at ingest
// rather than discovered in a backtest.
type QualityChecker struct {
	logger *zap.Logger
	config QualityConfig
}

// NewQualityChecker creates a checker.
func NewQualityChecker(logger *zap.Logger, config QualityConfig) *QualityChecker {
	if config.MaxBarMove <= 0 {
		config.MaxBarMove = DefaultQualityConfig().MaxBarMove
	}
	return &QualityChecker{logger: logger, config: config}
}

// Check inspects an ordered bar series and reports every issue found. The
// series itself is never modified; callers decide whether to reject.
func (q *QualityChecker) Check(symbol string, bars []types.OHLCV) *QualityReport {
	report := &QualityReport{Symbol: symbol, Bars: len(bars)}

	for i, bar := range bars {
		if !bar.Close.IsPositive() || !bar.Open.IsPositive() {
			report.Issues = append(report.Issues, QualityIssue{
				Type: "non_positive", Index: i, Timestamp: bar.Timestamp,
				Detail: fmt.Sprintf("open %s close %s", bar.Open, bar.Close),
			})
			continue
		}
		if bar.High.LessThan(bar.Low) ||
			bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) ||
			bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
			report.Issues = append(report.Issues, QualityIssue{
				Type: "bad_ohlc", Index: i, Timestamp: bar.Timestamp,
				Detail: fmt.Sprintf("high %s low %s do not bound open %s close %s",
					bar.High, bar.Low, bar.Open, bar.Close),
			})
		}
		if q.config.FlagZeroVolume && bar.Volume.IsZero() {
			report.Issues = append(report.Issues, QualityIssue{
				Type: "zero_volume", Index: i, Timestamp: bar.Timestamp,
			})
		}
	}

	returns := utils.Returns(types.Closes(bars))
	for i, r := range returns {
		if math.Abs(r) > q.config.MaxBarMove {
			report.Issues = append(report.Issues, QualityIssue{
				Type: "outlier_move", Index: i + 1, Timestamp: bars[i+1].Timestamp,
				Detail: fmt.Sprintf("close moved %.1f%% in one bar", r*100),
			})
		}
	}

	if q.config.MaxGap > 0 {
		for i := 1; i < len(bars); i++ {
			if gap := bars[i].Timestamp.Sub(bars[i-1].Timestamp); gap > q.config.MaxGap {
				report.Issues = append(report.Issues, QualityIssue{
					Type: "gap", Index: i, Timestamp: bars[i].Timestamp,
					Detail: fmt.Sprintf("%s since the previous bar", gap),
				})
			}
		}
	}

	report.Clean = len(report.Issues) == 0
	if !report.Clean {
		q.logger.Warn("data quality issues found",
			zap.String("symbol", symbol),
			zap.Int("bars", len(bars)),
			zap.Int("issues", len(report.Issues)),
		)
	}
	return report
}
