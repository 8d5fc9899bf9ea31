package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"sniperswing/internal/adapters/logger"
	"sniperswing/internal/domain"
	"sniperswing/internal/indicator"
	"sniperswing/internal/lifecycle"
	"sniperswing/internal/risk"
	"sniperswing/internal/signal"
	"sniperswing/internal/timing"
	"sniperswing/internal/utils"
)

// replayResult aggregates the outcome of one replay run.
type replayResult struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalPNL      float64
	AverageWin    float64
	AverageLoss   float64
	ProfitFactor  float64
	MaxDrawdown   float64
}

func main() {
	file := flag.String("file", "", "CSV file of bars written by fetch_bars (required)")
	lotSize := flag.Int("lotsize", 75, "contract lot size of the replayed instrument")
	level := flag.String("loglevel", "info", "log level")
	flag.Parse()

	if *file == "" {
		log.Fatal("FATAL: -file is required")
	}

	appLogger, err := logger.New(logger.Config{Level: *level, Pretty: true})
	if err != nil {
		log.Printf("WARN: falling back to default log level: %v", err)
	}
	ctx := context.Background()

	bars, err := utils.ReadBarsFromCSV(*file)
	if err != nil {
		appLogger.Error(ctx, err, "Error loading bars")
		log.Fatalf("Error loading bars: %v", err)
	}
	appLogger.Info(ctx, "Loaded bars", map[string]interface{}{
		"file":  *file,
		"count": len(bars),
		"from":  bars[0].Timestamp,
		"to":    bars[len(bars)-1].Timestamp,
	})

	engine, err := indicator.NewEngine(indicator.DefaultConfig())
	if err != nil {
		log.Fatalf("FATAL: Failed to create indicator engine: %v", err)
	}
	classifier, err := signal.NewClassifier(signal.DefaultConfig())
	if err != nil {
		log.Fatalf("FATAL: Failed to create classifier: %v", err)
	}
	sizer, err := risk.NewSizer(risk.DefaultConfig())
	if err != nil {
		log.Fatalf("FATAL: Failed to create sizer: %v", err)
	}
	calendar, err := timing.NewCalendar(timing.DefaultConfig())
	if err != nil {
		log.Fatalf("FATAL: Failed to create calendar: %v", err)
	}

	result, err := replay(ctx, appLogger, bars, engine, classifier, sizer, calendar, lifecycle.DefaultConfig(), *lotSize)
	if err != nil {
		appLogger.Error(ctx, err, "Replay error")
		log.Fatalf("Replay error: %v", err)
	}

	appLogger.Info(ctx, "Replay result", map[string]interface{}{
		"Trades":       result.TotalTrades,
		"WinRate":      result.WinRate * 100,
		"PNL":          result.TotalPNL,
		"AvgWin":       result.AverageWin,
		"AvgLoss":      result.AverageLoss,
		"ProfitFactor": result.ProfitFactor,
		"MaxDD":        result.MaxDrawdown * 100,
	})
}

// replay walks the bar series, opening and closing paper positions with the
// same entry grading and exit priority the live service applies. Positions
// carry no expiry, so the rollover rule never fires here.
func replay(
	ctx context.Context,
	appLogger *logger.Adapter,
	bars []*domain.Bar,
	engine *indicator.Engine,
	classifier *signal.Classifier,
	sizer *risk.Sizer,
	calendar *timing.Calendar,
	exits lifecycle.Config,
	lotSize int,
) (*replayResult, error) {
	required := engine.RequiredBars()
	if len(bars) <= required {
		return nil, errors.New("not enough bars for the indicator window")
	}

	result := &replayResult{}
	var (
		pos         *domain.Position
		pivot       indicator.PivotRange
		equity      float64
		peakEquity  float64
		grossProfit float64
		grossLoss   float64
		tradesToday int
		curDay      time.Time
		dayHigh     float64
		dayLow      float64
		dayClose    float64
	)

	closeOut := func(price float64, quantity float64, reason domain.CloseReason, now time.Time) {
		pnl := (price - pos.EntryPrice) * quantity
		if pos.Direction == domain.Short {
			pnl = -pnl
		}
		pos.RealizedPNL += pnl
		pos.RemainingQuantity -= quantity

		if pos.RemainingQuantity > 0 {
			pos.Status = domain.StatusPartiallyBooked
			appLogger.Debug(ctx, "Partial booked", map[string]interface{}{
				"time": now, "price": price, "quantity": quantity, "pnl": pnl,
			})
			return
		}

		total := pos.RealizedPNL
		result.TotalTrades++
		result.TotalPNL += total
		equity += total
		if total > 0 {
			result.WinningTrades++
			result.AverageWin += (total - result.AverageWin) / float64(result.WinningTrades)
			grossProfit += total
		} else {
			result.LosingTrades++
			result.AverageLoss += (total - result.AverageLoss) / float64(result.LosingTrades)
			grossLoss += -total
		}
		if equity > peakEquity {
			peakEquity = equity
		}
		if peakEquity > 0 {
			if dd := (peakEquity - equity) / peakEquity; dd > result.MaxDrawdown {
				result.MaxDrawdown = dd
			}
		}
		appLogger.Debug(ctx, "Position closed", map[string]interface{}{
			"time": now, "price": price, "reason": string(reason), "pnl": total,
		})
		pos = nil
	}

	for i, bar := range bars {
		// Roll the session accumulators and freeze the prior session's
		// pivot range when the session date changes.
		day := calendar.SessionDate(bar.Timestamp)
		if !day.Equal(curDay) {
			if !curDay.IsZero() && dayHigh > 0 {
				if p, err := indicator.ComputePivotRange(dayHigh, dayLow, dayClose); err == nil {
					pivot = p
				}
			}
			curDay = day
			dayHigh, dayLow, dayClose = bar.High, bar.Low, bar.Close
			tradesToday = 0
		} else {
			if bar.High > dayHigh {
				dayHigh = bar.High
			}
			if bar.Low < dayLow {
				dayLow = bar.Low
			}
			dayClose = bar.Close
		}

		if i+1 <= required {
			continue
		}

		snap, err := engine.Compute(bars[:i+1], pivot)
		if err != nil {
			if errors.Is(err, indicator.ErrNotReady) {
				continue
			}
			return nil, err
		}
		prior, err := engine.Compute(bars[:i], pivot)
		if err != nil {
			prior = nil
		}

		now := bar.Timestamp
		price := snap.Close

		if pos != nil {
			if reason, quantity := decideExit(pos, snap, calendar, exits, lotSize, now); reason != "" && quantity > 0 {
				closeOut(price, quantity, reason, now)
				if pos != nil && reason == domain.CloseReasonPartialTarget {
					pos.TargetLevel = tightenTarget(pos, exits.PostPartialTargetFraction)
				}
			}
			continue
		}

		if !calendar.CanEnter(now) {
			continue
		}
		sig := classifier.Classify(snap, prior, nil)
		if !sig.Tier.Tradeable() {
			continue
		}
		if err := sizer.ValidateEntry(sig.Tier, 0, tradesToday); err != nil {
			continue
		}
		quantity, err := sizer.Size(price, sig.Tier, nil, lotSize)
		if err != nil || quantity == 0 {
			continue
		}

		target := price * (1 + exits.FullTargetFraction)
		if sig.Direction == domain.Short {
			target = price * (1 - exits.FullTargetFraction)
		}
		pos = &domain.Position{
			Symbol:            bar.Symbol,
			Direction:         sig.Direction,
			EntryPrice:        price,
			Quantity:          float64(quantity),
			RemainingQuantity: float64(quantity),
			StopLevel:         sizer.StopLevel(price, sig.Direction),
			TargetLevel:       target,
			EntryTime:         now,
			Status:            domain.StatusOpen,
		}
		tradesToday++
		appLogger.Debug(ctx, "Position opened", map[string]interface{}{
			"time": now, "direction": string(sig.Direction), "price": price,
			"quantity": quantity, "tier": string(sig.Tier),
		})
	}

	// Flatten anything still open at the last bar so the run's P&L is
	// fully realized.
	if pos != nil {
		last := bars[len(bars)-1]
		closeOut(last.Close, pos.RemainingQuantity, domain.CloseReasonForcedTimeExit, last.Timestamp)
	}

	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades)
	}
	if grossLoss > 0 {
		result.ProfitFactor = grossProfit / grossLoss
	}
	return result, nil
}

// decideExit mirrors the live exit priority for a paper position: stop-loss,
// forced time exit, full target, one partial booking, then the technical
// reversal checks. It returns the quantity to close alongside the reason.
func decideExit(pos *domain.Position, snap *indicator.Snapshot, calendar *timing.Calendar, exits lifecycle.Config, lotSize int, now time.Time) (domain.CloseReason, float64) {
	price := snap.Close

	if (pos.Direction == domain.Long && price <= pos.StopLevel) ||
		(pos.Direction == domain.Short && price >= pos.StopLevel) {
		return domain.CloseReasonStopLoss, pos.RemainingQuantity
	}
	if calendar.ForcedExitDue(now) {
		return domain.CloseReasonForcedTimeExit, pos.RemainingQuantity
	}
	if (pos.Direction == domain.Long && price >= pos.TargetLevel) ||
		(pos.Direction == domain.Short && price <= pos.TargetLevel) {
		return domain.CloseReasonTarget, pos.RemainingQuantity
	}
	if pos.Status == domain.StatusOpen && pos.UnrealizedGain(price) >= exits.PartialTargetFraction {
		// Half the remaining size rounded down to whole lots; a single-lot
		// position cannot book a partial and simply holds.
		lots := int(pos.RemainingQuantity/2) / lotSize
		return domain.CloseReasonPartialTarget, float64(lots * lotSize)
	}
	if pos.Direction == domain.Long && price < snap.ExitMA {
		return domain.CloseReasonMACross, pos.RemainingQuantity
	}
	if pos.Direction == domain.Short && price > snap.ExitMA {
		return domain.CloseReasonMACross, pos.RemainingQuantity
	}
	if snap.VolumeRatio < exits.VolumeCollapseRatio {
		return domain.CloseReasonVolumeCollapse, pos.RemainingQuantity
	}
	if (pos.Direction == domain.Long && snap.Slope < 0) ||
		(pos.Direction == domain.Short && snap.Slope > 0) {
		return domain.CloseReasonSlopeReversal, pos.RemainingQuantity
	}
	if (pos.Direction == domain.Long && snap.RSIHierarchyBearish()) ||
		(pos.Direction == domain.Short && snap.RSIHierarchyBullish()) {
		return domain.CloseReasonMomentumBreak, pos.RemainingQuantity
	}
	return "", 0
}

func tightenTarget(pos *domain.Position, fraction float64) float64 {
	if pos.Direction == domain.Short {
		return pos.EntryPrice * (1 - fraction)
	}
	return pos.EntryPrice * (1 + fraction)
}
