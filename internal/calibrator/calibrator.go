// Package calibrator maintains the Bayesian prior and likelihood tables
// that adjust premiums as policies and claims are observed.
package calibrator

import (
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/fixedpoint"
	"github.com/sells-group/shield/internal/model"
)

// Neutral is the adjustment, in basis points, that leaves a premium unchanged.
const Neutral = fixedpoint.BasisPoints

// RefreshInterval is the minimum number of seconds between refreshes.
const RefreshInterval int64 = 86_400

const (
	basePrior = 100 // 1.00%

	// MinPolicies is the number of processed policies the calibrator needs
	// before it adjusts premiums.
	MinPolicies = 100

	emaKeep     = 95
	claimTarget = 200
	quietTarget = 50
	maxProb     = 1000
	minProb     = 10

	minFactor = 5_000
	maxFactor = 20_000
)

// Risk factors in per-mille, indexed like model.JobTypes and model.Industries.
var (
	jobFactors       = [model.JobTypesCount]uint64{800, 900, 900, 1100, 1200, 1200}
	industryFactors  = [model.IndustriesCount]uint64{900, 1200, 1300, 900, 1100, 1100, 1200}
	likelihoodLadder = [model.ClaimsHistoryBuckets]uint16{50, 100, 200, 400, 800}
)

// Initialize resets p to the starting tables.
func Initialize(p *model.BayesianParameters, now int64) {
	for j := range model.JobTypesCount {
		for i := range model.IndustriesCount {
			p.Priors[j*model.IndustriesCount+i] = uint16(basePrior * jobFactors[j] * industryFactors[i] / 1_000_000)
		}
	}
	p.Likelihoods = likelihoodLadder
	p.PoliciesProcessed = 0
	p.ClaimsProcessed = 0
	p.LastUpdate = now
}

// Bucket maps a claims count onto a likelihood bucket: 0, 1, 2, 3-4, 5+.
func Bucket(claimsHistory uint8) int {
	switch {
	case claimsHistory <= 2:
		return int(claimsHistory)
	case claimsHistory <= 4:
		return 3
	}
	return 4
}

func cell(job model.JobType, industry model.Industry) (int, bool) {
	j, i := job.Index(), industry.Index()
	if j < 0 || i < 0 {
		return 0, false
	}
	return j*model.IndustriesCount + i, true
}

func ema(cur uint16, hadClaim bool) uint16 {
	target := uint64(quietTarget)
	if hadClaim {
		target = claimTarget
	}
	v := (uint64(cur)*emaKeep + (100-emaKeep)*target) / 100
	if hadClaim {
		return uint16(min(v, maxProb))
	}
	return uint16(max(v, minProb))
}

// Update records one observation. Policy issuance reports hadClaim=false
// and counts a policy; claim approval reports hadClaim=true and counts a
// claim against a policy already counted.
func Update(p *model.BayesianParameters, job model.JobType, industry model.Industry, claimsHistory uint8, hadClaim bool) {
	if hadClaim {
		p.ClaimsProcessed++
	} else {
		p.PoliciesProcessed++
	}
	if idx, ok := cell(job, industry); ok {
		p.Priors[idx] = ema(p.Priors[idx], hadClaim)
	}
	b := Bucket(claimsHistory)
	p.Likelihoods[b] = ema(p.Likelihoods[b], hadClaim)
}

// Refresh initializes the tables on first use. Later calls rescale the
// likelihood ladder by the observed claim frequency relative to the 1%
// base, and may run at most once per RefreshInterval.
func Refresh(p *model.BayesianParameters, now int64) error {
	if p.LastUpdate == 0 {
		Initialize(p, now)
		return nil
	}
	if now-p.LastUpdate < RefreshInterval {
		return fault.ErrTooFrequentUpdate.With("calibrator refreshed %ds ago", now-p.LastUpdate)
	}
	if p.PoliciesProcessed > 0 {
		observed, err := fixedpoint.MulDiv(p.ClaimsProcessed, fixedpoint.BasisPoints, p.PoliciesProcessed)
		if err != nil {
			return err
		}
		for i, rung := range likelihoodLadder {
			v, err := fixedpoint.MulDiv(uint64(rung), observed, basePrior)
			if err != nil {
				return err
			}
			p.Likelihoods[i] = uint16(min(max(v, minProb), maxProb))
		}
	}
	p.LastUpdate = now
	return nil
}

// Adjustment returns the premium factor in basis points for the risk cell.
// It is Neutral until more than MinPolicies policies have been processed.
// The posterior is measured against the neutral cell (1% prior, 1%
// likelihood) and dampened:
//
//	ratio  = prior * likelihood / (100 * 100)
//	factor = clamp(0.8 + 0.2 * ratio, 0.5, 2.0)
func Adjustment(p *model.BayesianParameters, job model.JobType, industry model.Industry, claimsHistory uint8) uint64 {
	if p.PoliciesProcessed <= MinPolicies {
		return Neutral
	}
	prior := uint64(basePrior)
	if idx, ok := cell(job, industry); ok {
		prior = uint64(p.Priors[idx])
	}
	likelihood := uint64(p.Likelihoods[Bucket(claimsHistory)])

	// basePrior*basePrior equals one in basis points, so the product is the
	// ratio in bps already.
	ratio := prior * likelihood
	return min(max(8_000+ratio/5, minFactor), maxFactor)
}
