// Package balance scales aggregate generation so that total generation over
// total load meets the configured target ratio exactly. The ratio covers
// network losses and operating margin; it is a study input, not a derived
// quantity.
package balance

import (
	"log"
	"math"

	"github.com/ohowland/gridflow/internal/pkg/aggregate"
	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/record"
)

// Adjustment reports the scaling applied by Adjust.
type Adjustment struct {
	Factor          float64
	GenerationMW    float64
	LoadMW          float64
	TargetRatio     float64
	AchievedRatioMW float64
}

// Adjust returns a copy of the aggregate result with every generator's
// active power scaled by a single factor so generation/load equals the
// target ratio. Reactive injections of power-controlled generators scale
// with their active power.
func Adjust(agg aggregate.Result, cfg config.Config) (aggregate.Result, Adjustment, error) {
	totalGen := agg.TotalGenerationMW()
	totalLoad := agg.TotalLoadMW()
	target := cfg.Balance.TargetRatio

	if totalLoad == 0 {
		return aggregate.Result{}, Adjustment{}, record.NewDataIntegrityError(
			"balance", "total load is zero, generation/load ratio undefined")
	}
	if totalGen <= 0 {
		return aggregate.Result{}, Adjustment{}, record.NewDataIntegrityError(
			"balance", "total generation %.3fMW cannot be scaled to meet load %.3fMW", totalGen, totalLoad)
	}

	factor := target * totalLoad / totalGen
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 {
		return aggregate.Result{}, Adjustment{}, record.NewDataIntegrityError(
			"balance", "scaling factor %.6f unusable (generation %.3fMW, load %.3fMW)", factor, totalGen, totalLoad)
	}
	if factor > cfg.Balance.MaxScalingFactor {
		return aggregate.Result{}, Adjustment{}, record.NewDataIntegrityError(
			"balance", "scaling factor %.3f exceeds limit %.3f (generation %.3fMW, load %.3fMW)",
			factor, cfg.Balance.MaxScalingFactor, totalGen, totalLoad)
	}

	scaled := agg
	scaled.Generators = make([]aggregate.Generator, len(agg.Generators))
	copy(scaled.Generators, agg.Generators)

	for i := range scaled.Generators {
		g := &scaled.Generators[i]
		p := g.PMW * factor
		if ceiling := cfg.Balance.GeneratorCeiling * g.RatedMW; g.RatedMW > 0 && p > ceiling+1e-9 {
			return aggregate.Result{}, Adjustment{}, record.NewDataIntegrityError(
				"balance", "bus %d generator would exceed its ceiling: %.3fMW > %.3fMW", g.Bus, p, ceiling)
		}
		g.QMvar *= factor
		g.PMW = p
	}

	adj := Adjustment{
		Factor:          factor,
		GenerationMW:    scaled.TotalGenerationMW(),
		LoadMW:          totalLoad,
		TargetRatio:     target,
		AchievedRatioMW: scaled.TotalGenerationMW() / totalLoad,
	}
	log.Printf("[Balance] generation %.1fMW, load %.1fMW, factor %.4f", adj.GenerationMW, adj.LoadMW, adj.Factor)
	return scaled, adj, nil
}
