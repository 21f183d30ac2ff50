package fault

// Validation errors.
var (
	ErrInvalidCoverageAmount        = New(KindValidation, "InvalidCoverageAmount", "coverage amount outside allowed bounds")
	ErrInvalidCoveragePeriod        = New(KindValidation, "InvalidCoveragePeriod", "coverage period outside allowed bounds")
	ErrInvalidClaimAmount           = New(KindValidation, "InvalidClaimAmount", "claim amount exceeds policy coverage")
	ErrClaimAmountTooSmall          = New(KindValidation, "ClaimAmountTooSmall", "claim amount below 1% of coverage")
	ErrInvalidEvidenceType          = New(KindValidation, "InvalidEvidenceType", "evidence type too long")
	ErrInvalidEvidenceDescription   = New(KindValidation, "InvalidEvidenceDescription", "evidence description too long")
	ErrInvalidEvidenceHash          = New(KindValidation, "InvalidEvidenceHash", "evidence hash empty or too long")
	ErrTooManyEvidenceAttachments   = New(KindValidation, "TooManyEvidenceAttachments", "too many evidence attachments")
	ErrInvalidVoteReason            = New(KindValidation, "InvalidVoteReason", "vote reason too long")
	ErrInvalidReason                = New(KindValidation, "InvalidReason", "reason empty or too long")
	ErrInvalidPolicyDetails         = New(KindValidation, "InvalidPolicyDetails", "policy details too long")
	ErrInvalidDepositAmount         = New(KindValidation, "InvalidDepositAmount", "deposit amount must be positive")
	ErrInvalidWithdrawalAmount      = New(KindValidation, "InvalidWithdrawalAmount", "withdrawal amount must be positive")
	ErrInvalidAllocationPercentages = New(KindValidation, "InvalidAllocationPercentages", "allocation percentages must sum to 100")
	ErrInvalidRiskParameter         = New(KindValidation, "InvalidRiskParameter", "risk parameter out of range")
	ErrInvalidProduct               = New(KindValidation, "InvalidProduct", "invalid product definition")
	ErrInvalidParameter             = New(KindValidation, "InvalidParameter", "invalid program parameter")
	ErrInvalidEnum                  = New(KindValidation, "InvalidEnum", "unknown enum value")
	ErrInvalidTransfer              = New(KindValidation, "InvalidTransfer", "invalid transfer")
)

// Authorization errors.
var (
	ErrUnauthorized = New(KindUnauthorized, "Unauthorized", "caller is not permitted to perform this operation")
)

// Arithmetic errors.
var (
	ErrArithmeticError    = New(KindArithmetic, "ArithmeticError", "arithmetic overflow or division by zero")
	ErrArithmeticOverflow = ErrArithmeticError
)

// State errors.
var (
	ErrProgramPaused           = New(KindState, "ProgramPaused", "program is paused")
	ErrRiskPoolPaused          = New(KindState, "RiskPoolPaused", "risk pool is paused")
	ErrAlreadyInitialized      = New(KindState, "AlreadyInitialized", "program already initialized")
	ErrNotInitialized          = New(KindState, "NotInitialized", "program not initialized")
	ErrProductNotActive        = New(KindState, "ProductNotActive", "product is not active")
	ErrPolicyNotActive         = New(KindState, "PolicyNotActive", "policy is not active")
	ErrPolicyNotRenewable      = New(KindState, "PolicyNotRenewable", "policy cannot be renewed in its current status")
	ErrPolicyNotInClaimPending = New(KindState, "PolicyNotInClaimPending", "policy is not in claim pending status")
	ErrClaimPeriodEnded        = New(KindState, "ClaimPeriodEnded", "claim period has ended")
	ErrTooManyClaims           = New(KindState, "TooManyClaims", "policy has reached its claim limit")
	ErrClaimNotPendingVote     = New(KindState, "ClaimNotPendingVote", "claim is not open for voting")
	ErrClaimNotApproved        = New(KindState, "ClaimNotApproved", "claim is not approved")
	ErrClaimNotRejected        = New(KindState, "ClaimNotRejected", "claim is not rejected")
	ErrClaimNotInArbitration   = New(KindState, "ClaimNotInArbitration", "claim is not in arbitration or disputed")
	ErrClaimNotExpirable       = New(KindState, "ClaimNotExpirable", "claim voting is still open")
	ErrInvalidTransition       = New(KindState, "InvalidTransition", "status transition not permitted")
	ErrAlreadyVoted            = New(KindState, "AlreadyVoted", "voter has already voted on this claim")
	ErrTooManyVotes            = New(KindState, "TooManyVotes", "claim has reached its vote limit")
	ErrVotingPeriodEnded       = New(KindState, "VotingPeriodEnded", "voting period has ended")
	ErrDisputePeriodEnded      = New(KindState, "DisputePeriodEnded", "dispute period has ended")
	ErrAlreadyDisputed         = New(KindState, "AlreadyDisputed", "claim has already been disputed")
	ErrTooFrequentUpdate       = New(KindState, "TooFrequentUpdate", "calibrator refreshed too recently")
)

// Solvency errors.
var (
	ErrInsufficientBalance               = New(KindSolvency, "InsufficientBalance", "provider balance is insufficient")
	ErrWithdrawalExceedsAvailableCapital = New(KindSolvency, "WithdrawalExceedsAvailableCapital", "withdrawal would breach the reserve floor")
	ErrInsufficientFunds                 = New(KindSolvency, "InsufficientFunds", "insufficient funds")
)

// Transfer errors.
var (
	ErrTransferFailed = New(KindTransfer, "TransferFailed", "value transfer failed")
)

// Not found errors.
var (
	ErrProductNotFound  = New(KindNotFound, "ProductNotFound", "product not found")
	ErrPolicyNotFound   = New(KindNotFound, "PolicyNotFound", "policy not found")
	ErrClaimNotFound    = New(KindNotFound, "ClaimNotFound", "claim not found")
	ErrProviderNotFound = New(KindNotFound, "ProviderNotFound", "capital provider not found")
)
