package httpapi

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	svcerrors "github.com/R3E-Network/raffle/internal/errors"
	"github.com/R3E-Network/raffle/internal/httputil"
	"github.com/R3E-Network/raffle/internal/middleware"
	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
)

type enterRequest struct {
	Participant string `json:"participant"`
	Amount      int64  `json:"amount"`
}

// fulfillRequest carries random words as decimal strings so 256-bit values survive JSON.
type fulfillRequest struct {
	RequestID   uint64   `json:"request_id"`
	RandomWords []string `json:"random_words"`
}

type upkeepResponse struct {
	UpkeepNeeded bool     `json:"upkeep_needed"`
	PerformData  string   `json:"perform_data"`
	Diagnostic   uint8    `json:"diagnostic"`
	Reasons      []string `json:"reasons"`
}

func (h *handler) snapshot(w http.ResponseWriter, _ *http.Request) {
	round := h.app.Raffle.Snapshot()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"round":             round.Number,
		"state":             round.State,
		"state_code":        round.State.Code(),
		"participants":      round.Participants,
		"entrance_fee":      round.EntryFee,
		"interval_seconds":  int64(round.Interval.Seconds()),
		"last_timestamp":    round.LastResolution,
		"pending_request":   round.PendingRequestID,
		"recent_winner":     round.RecentWinner,
		"balance":           round.Balance,
		"number_of_players": len(round.Participants),
	})
}

func (h *handler) state(w http.ResponseWriter, _ *http.Request) {
	state := h.app.Raffle.State()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"state": state, "code": state.Code()})
}

func (h *handler) entranceFee(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"entrance_fee": h.app.Raffle.EntryFee()})
}

func (h *handler) interval(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"interval_seconds": int64(h.app.Raffle.Interval().Seconds())})
}

func (h *handler) playerCount(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"count": h.app.Raffle.NumberOfParticipants()})
}

func (h *handler) player(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		httputil.WriteError(w, svcerrors.InvalidFormat("index", "index must be an integer"))
		return
	}
	participant, err := h.app.Raffle.Participant(index)
	if err != nil {
		writeRaffleError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"index": index, "participant": participant})
}

func (h *handler) recentWinner(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"recent_winner": h.app.Raffle.RecentWinner()})
}

func (h *handler) lastTimestamp(w http.ResponseWriter, _ *http.Request) {
	last := h.app.Raffle.LastResolution()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"last_timestamp": last, "unix": last.Unix()})
}

func (h *handler) balance(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"balance": h.app.Raffle.Balance()})
}

func (h *handler) pendingRequest(w http.ResponseWriter, _ *http.Request) {
	id, ok := h.app.Raffle.PendingRequest()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"pending": ok, "request_id": id})
}

func (h *handler) enter(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.app.Raffle.Enter(r.Context(), req.Participant, req.Amount); err != nil {
		writeRaffleError(w, err)
		return
	}
	round := h.app.Raffle.Snapshot()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"round":             round.Number,
		"participant":       strings.TrimSpace(req.Participant),
		"number_of_players": len(round.Participants),
		"balance":           round.Balance,
	})
}

func (h *handler) checkUpkeep(w http.ResponseWriter, r *http.Request) {
	needed, performData, err := h.app.Raffle.CheckUpkeep(r.Context(), nil)
	if err != nil {
		writeRaffleError(w, err)
		return
	}
	var diag lottery.UpkeepDiagnostic
	if len(performData) > 0 {
		diag = lottery.UpkeepDiagnostic(performData[0])
	}
	httputil.WriteJSON(w, http.StatusOK, upkeepResponse{
		UpkeepNeeded: needed,
		PerformData:  "0x" + strconv.FormatUint(uint64(diag), 16),
		Diagnostic:   uint8(diag),
		Reasons:      diag.Reasons(),
	})
}

func (h *handler) performUpkeep(w http.ResponseWriter, r *http.Request) {
	requestID, err := h.app.Raffle.PerformUpkeep(r.Context(), nil)
	if err != nil {
		writeRaffleError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"request_id": requestID,
		"state":      h.app.Raffle.State(),
	})
}

func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	words := make([]*big.Int, 0, len(req.RandomWords))
	for i, raw := range req.RandomWords {
		word, ok := new(big.Int).SetString(strings.TrimSpace(raw), 0)
		if !ok || word.Sign() < 0 {
			httputil.WriteError(w, svcerrors.InvalidFormat("random_words", "random word "+strconv.Itoa(i)+" is not a non-negative integer"))
			return
		}
		words = append(words, word)
	}

	h.log.WithField("service_id", middleware.GetServiceID(r.Context())).
		WithField("request_id", req.RequestID).
		Info("randomness callback received")

	if err := h.app.Raffle.FulfillRandomWords(r.Context(), lottery.RequestID(req.RequestID), words); err != nil {
		writeRaffleError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"request_id":    req.RequestID,
		"recent_winner": h.app.Raffle.RecentWinner(),
		"state":         h.app.Raffle.State(),
	})
}

// writeRaffleError maps engine errors onto HTTP statuses.
func writeRaffleError(w http.ResponseWriter, err error) {
	var notNeeded *lottery.UpkeepNotNeededError
	switch {
	case errors.Is(err, lottery.ErrInsufficientPayment):
		httputil.WriteError(w, svcerrors.PaymentRequired(err.Error(), err))
	case errors.Is(err, lottery.ErrRoundNotOpen):
		httputil.WriteError(w, svcerrors.Conflict(err.Error(), err))
	case errors.As(err, &notNeeded):
		httputil.WriteError(w, svcerrors.Conflict(lottery.ErrUpkeepNotNeeded.Error(), err).
			WithDetails("balance", notNeeded.Balance).
			WithDetails("participants", notNeeded.Participants).
			WithDetails("state", notNeeded.State).
			WithDetails("reasons", notNeeded.Diagnostic.Reasons()))
	case errors.Is(err, lottery.ErrUnknownRequest):
		httputil.WriteError(w, svcerrors.NotFound(err.Error(), err))
	case errors.Is(err, lottery.ErrParticipantIndex):
		httputil.WriteError(w, svcerrors.NotFound(err.Error(), err))
	case errors.Is(err, lottery.ErrTransferFailed):
		httputil.WriteError(w, svcerrors.Upstream(err.Error(), err))
	case errors.Is(err, lottery.ErrInvalidParticipant),
		errors.Is(err, lottery.ErrInvalidRandomness),
		errors.Is(err, lottery.ErrBalanceOverflow):
		httputil.WriteError(w, svcerrors.BadRequest(err.Error()))
	default:
		httputil.WriteError(w, svcerrors.Internal("raffle operation failed", err))
	}
}
