// Package overlay submits token transactions to the verification tier and
// hosts a local topic manager for the token topic.
package overlay

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/token"
)

// ErrTransport is returned when the overlay cannot be reached or answers
// with something other than admittance instructions.
var ErrTransport = errors.New("overlay transport error")

// TaggedBEEF is a serialized evidence bundle with the topics to submit to.
type TaggedBEEF struct {
	Beef   []byte
	Topics []string
}

// AdmittanceInstructions lists the outputs a topic admitted.
type AdmittanceInstructions struct {
	OutputsToAdmit []uint32 `json:"outputsToAdmit"`
	CoinsToRetain  []uint32 `json:"coinsToRetain"`
}

// STEAK maps each submitted topic to its admittance instructions.
type STEAK map[string]AdmittanceInstructions

// Broadcaster submits tagged bundles to an overlay.
type Broadcaster interface {
	Send(ctx context.Context, tagged TaggedBEEF) (STEAK, error)
}

// Unbounded disables the upper limit in RequireAdmitted.
const Unbounded = -1

// RequireAdmitted checks that topic admitted between min and max outputs.
// Anything else is reported as token.ErrBroadcastRejected.
func RequireAdmitted(steak STEAK, topic string, min, max int) error {
	got := len(steak[topic].OutputsToAdmit)
	if got < min || (max != Unbounded && got > max) {
		return fmt.Errorf("%w: topic %s admitted %d outputs", token.ErrBroadcastRejected, topic, got)
	}
	return nil
}
