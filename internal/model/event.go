package model

import "encoding/json"

// EventType names a state transition recorded in the audit trail.
type EventType string

const (
	EventProgramInitialized EventType = "program.initialized"
	EventProgramUpdated     EventType = "program.updated"
	EventProductCreated     EventType = "product.created"
	EventProductUpdated     EventType = "product.updated"
	EventPolicyPurchased    EventType = "policy.purchased"
	EventPolicyRenewed      EventType = "policy.renewed"
	EventPolicyCancelled    EventType = "policy.cancelled"
	EventPolicyExpired      EventType = "policy.expired"
	EventPolicyGrace        EventType = "policy.grace_period"
	EventClaimSubmitted     EventType = "claim.submitted"
	EventClaimVoted         EventType = "claim.voted"
	EventClaimArbitrated    EventType = "claim.arbitrated"
	EventClaimDisputed      EventType = "claim.disputed"
	EventClaimPaid          EventType = "claim.paid"
	EventClaimExpired       EventType = "claim.expired"
	EventCapitalDeposited   EventType = "capital.deposited"
	EventCapitalWithdrawn   EventType = "capital.withdrawn"
	EventAccountFunded      EventType = "account.funded"
	EventMetricsUpdated     EventType = "pool.metrics_updated"
	EventCalibratorRefresh  EventType = "calibrator.refreshed"
)

// Entity kinds used in events and the document store.
const (
	KindProgram    = "program"
	KindPool       = "pool"
	KindCalibrator = "calibrator"
	KindProduct    = "product"
	KindPolicy     = "policy"
	KindClaim      = "claim"
	KindProvider   = "provider"
	KindAccount    = "account"
	KindReputation = "reputation"
)

// Event is one entry of the hash-chained audit trail.
type Event struct {
	Sequence   uint64          `json:"sequence"`
	Type       EventType       `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Actor      string          `json:"actor"`
	At         int64           `json:"at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
}
