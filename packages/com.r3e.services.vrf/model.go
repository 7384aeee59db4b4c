// Package vrf implements a verifiable random words coordinator. Each request is answered
// with a BLS signature over its seed, and the random words are derived from that proof.
package vrf

import (
	"encoding/hex"
	"math/big"
	"time"
)

// RequestStatus represents the delivery state of a request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusFulfilled RequestStatus = "fulfilled"
	RequestStatusFailed    RequestStatus = "failed"
)

// MaxNumWords caps the words a single request may ask for.
const MaxNumWords = 500

const timeLayout = time.RFC3339Nano

// RequestParams are the caller-supplied request settings.
type RequestParams struct {
	KeyHash          string `json:"key_hash"`
	SubscriptionID   uint64 `json:"subscription_id"`
	MinConfirmations uint16 `json:"min_confirmations"`
	CallbackGasLimit uint32 `json:"callback_gas_limit"`
	NumWords         uint32 `json:"num_words"`
}

// Request is a randomness request tracked by the coordinator.
type Request struct {
	ID          uint64        `json:"id"`
	Params      RequestParams `json:"params"`
	Seed        []byte        `json:"seed"`
	Proof       []byte        `json:"proof,omitempty"`
	Words       []*big.Int    `json:"random_words,omitempty"`
	Status      RequestStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	FulfilledAt *time.Time    `json:"fulfilled_at,omitempty"`
}

// Clone returns a copy that does not share slices with r.
func (r Request) Clone() Request {
	out := r
	out.Seed = append([]byte(nil), r.Seed...)
	out.Proof = append([]byte(nil), r.Proof...)
	if r.Words != nil {
		out.Words = make([]*big.Int, len(r.Words))
		for i, w := range r.Words {
			out.Words[i] = new(big.Int).Set(w)
		}
	}
	if r.FulfilledAt != nil {
		t := *r.FulfilledAt
		out.FulfilledAt = &t
	}
	return out
}

func hexBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}
