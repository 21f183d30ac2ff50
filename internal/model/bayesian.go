package model

// Table dimensions of the Bayesian calibrator.
const (
	JobTypesCount        = 6
	IndustriesCount      = 7
	ClaimsHistoryBuckets = 5
)

// BayesianParameters holds the calibrator's prior and likelihood tables.
// All probabilities are basis points.
type BayesianParameters struct {
	Priors            [JobTypesCount * IndustriesCount]uint16 `json:"priors"`
	Likelihoods       [ClaimsHistoryBuckets]uint16            `json:"likelihoods"`
	PoliciesProcessed uint64                                  `json:"policies_processed"`
	ClaimsProcessed   uint64                                  `json:"claims_processed"`
	LastUpdate        int64                                   `json:"last_update"`
}
