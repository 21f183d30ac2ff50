package model

// Limits on free-text and collection sizes.
const (
	MaxNameLength                = 50
	MaxDescriptionLength         = 200
	MaxReasonLength              = 256
	MaxPolicyDetailsLength       = 256
	MaxEvidenceTypeLength        = 64
	MaxEvidenceDescriptionLength = 512
	MaxEvidenceHashLength        = 64
	MaxEvidenceAttachments       = 5
	MaxVotes                     = 20
	MaxClaimsPerPolicy           = 5
)

// SecondsPerDay converts day-denominated parameters to clock units.
const SecondsPerDay int64 = 86_400

// Defaults for a newly initialized program.
const (
	DefaultBaseReserveRatio          = 100
	DefaultTargetReserveRatio        = 150
	DefaultMinCoverage               = 100_000
	DefaultMaxCoverage               = 10_000_000
	DefaultMinPeriodDays             = 30
	DefaultMaxPeriodDays             = 365
	DefaultGracePeriodDays           = 7
	DefaultClaimPeriodDays           = 30
	DefaultRiskBufferPercentage      = 20
	DefaultArbitrationThreshold      = 70
	DefaultAutoClaimLimit            = 1_000_000
	DefaultAutoProcessThreshold      = 30
	DefaultMinVotesRequired          = 3
	DefaultVotingPeriodDays          = 7
	DefaultDisputeWindowDays         = 7
	DefaultBasePremiumRate           = 500
	DefaultRiskCurveExponent         = 2
	DefaultReputationImpactWeight    = 3
	DefaultClaimsHistoryImpactWeight = 4
	DefaultMarketVolatilityWeight    = 2
	DefaultStakingAllocation         = 70
	DefaultTreasuryAllocation        = 30
	DefaultMaxAutoApprove            = 1_000_000
	DefaultReputationScore           = 50
)

// DefaultJobTypeWeights are risk weights (x10) in JobTypes order.
var DefaultJobTypeWeights = [6]uint8{10, 12, 9, 10, 11, 14}

// DefaultIndustryWeights are risk weights (x10) in Industries order.
var DefaultIndustryWeights = [7]uint8{9, 13, 11, 10, 12, 9, 14}

// FeatureFlags select collaborator strategies.
type FeatureFlags struct {
	UseEthosReputation bool `json:"use_ethos_reputation" yaml:"use_ethos_reputation" mapstructure:"use_ethos_reputation"`
	UseSessionAuth     bool `json:"use_session_auth" yaml:"use_session_auth" mapstructure:"use_session_auth"`
}

// ProgramParams are the tunable parameters of the program.
type ProgramParams struct {
	BaseReserveRatio          uint64   `json:"base_reserve_ratio" yaml:"base_reserve_ratio" mapstructure:"base_reserve_ratio"`
	TargetReserveRatio        uint64   `json:"target_reserve_ratio" yaml:"target_reserve_ratio" mapstructure:"target_reserve_ratio"`
	MinCoverage               uint64   `json:"min_coverage" yaml:"min_coverage" mapstructure:"min_coverage"`
	MaxCoverage               uint64   `json:"max_coverage" yaml:"max_coverage" mapstructure:"max_coverage"`
	MinPeriodDays             uint64   `json:"min_period_days" yaml:"min_period_days" mapstructure:"min_period_days"`
	MaxPeriodDays             uint64   `json:"max_period_days" yaml:"max_period_days" mapstructure:"max_period_days"`
	GracePeriodDays           uint64   `json:"grace_period_days" yaml:"grace_period_days" mapstructure:"grace_period_days"`
	ClaimPeriodDays           uint64   `json:"claim_period_days" yaml:"claim_period_days" mapstructure:"claim_period_days"`
	RiskBufferPercentage      uint64   `json:"risk_buffer_percentage" yaml:"risk_buffer_percentage" mapstructure:"risk_buffer_percentage"`
	ArbitrationThreshold      uint64   `json:"arbitration_threshold" yaml:"arbitration_threshold" mapstructure:"arbitration_threshold"`
	AutoClaimLimit            uint64   `json:"auto_claim_limit" yaml:"auto_claim_limit" mapstructure:"auto_claim_limit"`
	AutoProcessThreshold      uint64   `json:"auto_process_threshold" yaml:"auto_process_threshold" mapstructure:"auto_process_threshold"`
	MinVotesRequired          uint64   `json:"min_votes_required" yaml:"min_votes_required" mapstructure:"min_votes_required"`
	VotingPeriodDays          uint64   `json:"voting_period_days" yaml:"voting_period_days" mapstructure:"voting_period_days"`
	DisputeWindowDays         uint64   `json:"dispute_window_days" yaml:"dispute_window_days" mapstructure:"dispute_window_days"`
	BasePremiumRate           uint64   `json:"base_premium_rate" yaml:"base_premium_rate" mapstructure:"base_premium_rate"`
	RiskCurveExponent         uint64   `json:"risk_curve_exponent" yaml:"risk_curve_exponent" mapstructure:"risk_curve_exponent"`
	ReputationImpactWeight    uint64   `json:"reputation_impact_weight" yaml:"reputation_impact_weight" mapstructure:"reputation_impact_weight"`
	ClaimsHistoryImpactWeight uint64   `json:"claims_history_impact_weight" yaml:"claims_history_impact_weight" mapstructure:"claims_history_impact_weight"`
	MarketVolatilityWeight    uint64   `json:"market_volatility_weight" yaml:"market_volatility_weight" mapstructure:"market_volatility_weight"`
	JobTypeWeights            [6]uint8 `json:"job_type_weights" yaml:"job_type_weights" mapstructure:"job_type_weights"`
	IndustryWeights           [7]uint8 `json:"industry_weights" yaml:"industry_weights" mapstructure:"industry_weights"`
	MaxAutoApprove            uint64   `json:"max_auto_approve" yaml:"max_auto_approve" mapstructure:"max_auto_approve"`
	StakingAllocation         uint64   `json:"staking_allocation" yaml:"staking_allocation" mapstructure:"staking_allocation"`
	TreasuryAllocation        uint64   `json:"treasury_allocation" yaml:"treasury_allocation" mapstructure:"treasury_allocation"`
}

// DefaultProgramParams returns the parameters of a freshly initialized program.
func DefaultProgramParams() ProgramParams {
	return ProgramParams{
		BaseReserveRatio:          DefaultBaseReserveRatio,
		TargetReserveRatio:        DefaultTargetReserveRatio,
		MinCoverage:               DefaultMinCoverage,
		MaxCoverage:               DefaultMaxCoverage,
		MinPeriodDays:             DefaultMinPeriodDays,
		MaxPeriodDays:             DefaultMaxPeriodDays,
		GracePeriodDays:           DefaultGracePeriodDays,
		ClaimPeriodDays:           DefaultClaimPeriodDays,
		RiskBufferPercentage:      DefaultRiskBufferPercentage,
		ArbitrationThreshold:      DefaultArbitrationThreshold,
		AutoClaimLimit:            DefaultAutoClaimLimit,
		AutoProcessThreshold:      DefaultAutoProcessThreshold,
		MinVotesRequired:          DefaultMinVotesRequired,
		VotingPeriodDays:          DefaultVotingPeriodDays,
		DisputeWindowDays:         DefaultDisputeWindowDays,
		BasePremiumRate:           DefaultBasePremiumRate,
		RiskCurveExponent:         DefaultRiskCurveExponent,
		ReputationImpactWeight:    DefaultReputationImpactWeight,
		ClaimsHistoryImpactWeight: DefaultClaimsHistoryImpactWeight,
		MarketVolatilityWeight:    DefaultMarketVolatilityWeight,
		JobTypeWeights:            DefaultJobTypeWeights,
		IndustryWeights:           DefaultIndustryWeights,
		MaxAutoApprove:            DefaultMaxAutoApprove,
		StakingAllocation:         DefaultStakingAllocation,
		TreasuryAllocation:        DefaultTreasuryAllocation,
	}
}

// ProgramState is the singleton global configuration and aggregate counters.
type ProgramState struct {
	Authority string        `json:"authority"`
	Paused    bool          `json:"paused"`
	Params    ProgramParams `json:"params"`
	Features  FeatureFlags  `json:"features"`

	TotalProducts        uint64 `json:"total_products"`
	TotalPolicies        uint64 `json:"total_policies"`
	ActivePolicies       uint64 `json:"active_policies"`
	TotalCoverage        uint64 `json:"total_coverage"`
	TotalPremiums        uint64 `json:"total_premiums"`
	TotalClaimsPaid      uint64 `json:"total_claims_paid"`
	TotalLiability       uint64 `json:"total_liability"`
	ApprovedClaims       uint64 `json:"approved_claims"`
	RejectedClaims       uint64 `json:"rejected_claims"`
	ArbitratedClaims     uint64 `json:"arbitrated_claims"`
	PremiumToClaimsRatio uint64 `json:"premium_to_claims_ratio"`

	CreatedAt  int64 `json:"created_at"`
	LastUpdate int64 `json:"last_update"`
}

// JobWeight returns the risk weight (x10) for j, or 15 when j is unknown.
func (p *ProgramState) JobWeight(j JobType) uint64 {
	if i := j.Index(); i >= 0 {
		return uint64(p.Params.JobTypeWeights[i])
	}
	return 15
}

// IndustryWeight returns the risk weight (x10) for i, or 15 when i is unknown.
func (p *ProgramState) IndustryWeight(i Industry) uint64 {
	if n := i.Index(); n >= 0 {
		return uint64(p.Params.IndustryWeights[n])
	}
	return 15
}
