// Package lottery provides a self-operating raffle: fixed-fee entries, upkeep-driven
// winner requests and VRF-backed payouts.
package lottery

import (
	"strings"
	"time"
)

// RaffleState represents the lifecycle state of the current round.
type RaffleState string

const (
	RaffleStateOpen        RaffleState = "open"
	RaffleStateCalculating RaffleState = "calculating"
)

// Code returns the numeric state used by the on-chain raffle (0=open, 1=calculating).
func (s RaffleState) Code() int {
	if s == RaffleStateCalculating {
		return 1
	}
	return 0
}

// RequestID identifies a randomness request. Zero means no request.
type RequestID uint64

// Round is the singleton raffle state, mutated in place across its lifecycle.
type Round struct {
	Number           int64         `json:"round"`            // Sequential round number, starts at 1
	State            RaffleState   `json:"state"`            // Current raffle state
	Participants     []string      `json:"participants"`     // Entry order, duplicates allowed
	EntryFee         int64         `json:"entrance_fee"`     // Fixed per-entry fee in smallest unit
	Interval         time.Duration `json:"interval"`         // Minimum time between resolutions
	LastResolution   time.Time     `json:"last_timestamp"`   // Last payout (or construction) time
	PendingRequestID RequestID     `json:"pending_request"`  // Outstanding VRF request while calculating
	RecentWinner     string        `json:"recent_winner"`    // Winner of the last round
	Balance          int64         `json:"balance"`          // Sum of payments for this round
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Clone returns a deep copy of the round.
func (r Round) Clone() Round {
	out := r
	out.Participants = make([]string, len(r.Participants))
	copy(out.Participants, r.Participants)
	return out
}

// RandomnessRequest carries the parameters forwarded to the randomness provider.
type RandomnessRequest struct {
	KeyHash          string `json:"key_hash"`          // Gas lane / key selector
	SubscriptionID   uint64 `json:"subscription_id"`   // Billing subscription
	MinConfirmations uint16 `json:"min_confirmations"` // Confirmations before fulfilment
	CallbackGasLimit uint32 `json:"callback_gas_limit"`
	NumWords         uint32 `json:"num_words"`
}

// Payout is the transfer of a round's balance to its winner.
type Payout struct {
	ID        string    `json:"id"`
	RequestID RequestID `json:"request_id"`
	Round     int64     `json:"round"`
	Winner    string    `json:"winner"`
	Amount    int64     `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
}

// EventType names an observable raffle event.
type EventType string

const (
	EventEntered         EventType = "raffle.entered"
	EventWinnerRequested EventType = "raffle.winner_requested"
	EventWinnerPicked    EventType = "raffle.winner_picked"
)

// Event is emitted after a transition commits.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Round       int64     `json:"round"`
	Participant string    `json:"participant,omitempty"`
	RequestID   RequestID `json:"request_id,omitempty"`
	Winner      string    `json:"winner,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	At          time.Time `json:"at"`
}

// UpkeepDiagnostic is a bitmask of failed eligibility conditions.
type UpkeepDiagnostic uint8

const (
	UpkeepIntervalNotElapsed UpkeepDiagnostic = 1 << iota
	UpkeepNoParticipants
	UpkeepNoBalance
	UpkeepNotOpen
)

var diagnosticNames = []struct {
	flag UpkeepDiagnostic
	name string
}{
	{UpkeepIntervalNotElapsed, "interval_not_elapsed"},
	{UpkeepNoParticipants, "no_participants"},
	{UpkeepNoBalance, "no_balance"},
	{UpkeepNotOpen, "not_open"},
}

// Has reports whether flag is set.
func (d UpkeepDiagnostic) Has(flag UpkeepDiagnostic) bool {
	return d&flag != 0
}

// Reasons lists the failed conditions in a stable order.
func (d UpkeepDiagnostic) Reasons() []string {
	reasons := make([]string, 0, len(diagnosticNames))
	for _, n := range diagnosticNames {
		if d.Has(n.flag) {
			reasons = append(reasons, n.name)
		}
	}
	return reasons
}

// Bytes encodes the diagnostic as upkeep perform data.
func (d UpkeepDiagnostic) Bytes() []byte {
	return []byte{byte(d)}
}

func (d UpkeepDiagnostic) String() string {
	if d == 0 {
		return "eligible"
	}
	return strings.Join(d.Reasons(), ",")
}

// Default randomness request parameters.
const (
	DefaultMinConfirmations = 3
	DefaultCallbackGasLimit = 500_000
	DefaultNumWords         = 1
)
