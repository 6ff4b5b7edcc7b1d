// Package custody defines the boundary to the escrow service holding the
// base asset behind resting asks. The engine never moves value itself; it
// emits one intent per fill or cancellation affecting an ask and the
// custody service is expected to execute each intent exactly once.
package custody

import (
	"fmt"

	"skoll/internal/common"
)

type IntentKind int

const (
	// Release transfers escrowed quantity to the counterparty of a fill.
	Release IntentKind = iota
	// Return hands escrowed quantity back to the owner on cancellation.
	Return
)

func (k IntentKind) String() string {
	if k == Release {
		return "release"
	}
	return "return"
}

type Intent struct {
	Kind      IntentKind
	Market    string
	OrderID   common.OrderID
	Recipient string
	Quantity  uint64
	Tag       common.SettlementTag
}

func (i Intent) String() string {
	return fmt.Sprintf("%s %d to %s (order %s)", i.Kind, i.Quantity, i.Recipient, i.OrderID)
}

// Emitter receives custody intents. Implementations must be idempotent per
// intent delivery; the engine emits each intent exactly once.
type Emitter interface {
	Emit(intent Intent) error
}

// Recorder is an in-memory Emitter for tests and local runs.
type Recorder struct {
	Intents []Intent
}

func (r *Recorder) Emit(intent Intent) error {
	r.Intents = append(r.Intents, intent)
	return nil
}
