package vrf

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	svcerrors "github.com/R3E-Network/raffle/internal/errors"
	"github.com/R3E-Network/raffle/internal/httputil"
)

// HTTPHandler exposes the coordinator's inspection and recovery endpoints.
type HTTPHandler struct {
	coord *Coordinator
}

// NewHTTPHandler creates a new HTTP handler for the coordinator.
func NewHTTPHandler(coord *Coordinator) *HTTPHandler {
	return &HTTPHandler{coord: coord}
}

// RegisterRoutes mounts the handler on r. Callers normally pass a subrouter such as /v1/vrf.
func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/public-key", h.handlePublicKey).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}", h.handleGetRequest).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}/redeliver", h.handleRedeliver).Methods(http.MethodPost)
}

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
	Scheme    string `json:"scheme"`
}

type requestResponse struct {
	ID          uint64        `json:"id"`
	Status      RequestStatus `json:"status"`
	Params      RequestParams `json:"params"`
	Seed        string        `json:"seed"`
	Proof       string        `json:"proof,omitempty"`
	RandomWords []string      `json:"random_words,omitempty"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   string        `json:"created_at"`
	FulfilledAt string        `json:"fulfilled_at,omitempty"`
}

func (h *HTTPHandler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.coord.PublicKey()
	if err != nil {
		httputil.WriteError(w, svcerrors.Internal("public key unavailable", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, publicKeyResponse{PublicKey: key, Scheme: "bls-bn256"})
}

func (h *HTTPHandler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := h.coord.GetRequest(r.Context(), id)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(req))
}

func (h *HTTPHandler) handleRedeliver(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := h.coord.Redeliver(r.Context(), id)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, toResponse(req))
	case errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrNotRedeliverable):
		writeRequestError(w, err)
	default:
		// The consumer rejected the words again; report the refreshed request alongside.
		httputil.WriteError(w, svcerrors.Upstream("consumer rejected random words", err).
			WithDetails("request", toResponse(req)))
	}
}

func requestID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		httputil.WriteError(w, svcerrors.InvalidFormat("id", "request id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func writeRequestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		httputil.WriteError(w, svcerrors.NotFound("vrf request not found", err))
	case errors.Is(err, ErrNotRedeliverable):
		httputil.WriteError(w, svcerrors.Conflict(err.Error(), err))
	default:
		httputil.WriteError(w, svcerrors.Internal("vrf request lookup failed", err))
	}
}

func toResponse(req Request) requestResponse {
	out := requestResponse{
		ID:        req.ID,
		Status:    req.Status,
		Params:    req.Params,
		Seed:      hexBytes(req.Seed),
		Proof:     hexBytes(req.Proof),
		Attempts:  req.Attempts,
		LastError: req.LastError,
		CreatedAt: req.CreatedAt.UTC().Format(timeLayout),
	}
	for _, w := range req.Words {
		out.RandomWords = append(out.RandomWords, w.String())
	}
	if req.FulfilledAt != nil {
		out.FulfilledAt = req.FulfilledAt.UTC().Format(timeLayout)
	}
	return out
}
