package model

// Aggregates bundles the singleton records that most operations update
// together with the entity they act on. The engine loads them at the start
// of an operation and writes them back in the same transaction.
type Aggregates struct {
	Program    *ProgramState       `json:"program"`
	Pool       *RiskPool           `json:"pool"`
	Calibrator *BayesianParameters `json:"calibrator"`
}

// SingletonID is the document id of the program, pool and calibrator records.
const SingletonID = "global"
