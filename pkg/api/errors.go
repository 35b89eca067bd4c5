package api

import (
	"errors"
	"net/http"

	"github.com/tallyworks/tally/pkg/access"
	"github.com/tallyworks/tally/pkg/allocation"
	"github.com/tallyworks/tally/pkg/entity"
	"github.com/tallyworks/tally/pkg/httputil"
	"github.com/tallyworks/tally/pkg/observability"
	"github.com/tallyworks/tally/pkg/store"
)

// conflictResponse carries the winner's state back to the losing writer.
type conflictResponse struct {
	Error        string      `json:"error"`
	EntityType   entity.Type `json:"entity_type"`
	EntityID     string      `json:"entity_id"`
	CurrentState store.Row   `json:"current_state"`
}

// capacityResponse carries the totals a precise user message needs.
type capacityResponse struct {
	Error          string         `json:"error"`
	WorkerKey      string         `json:"worker_key"`
	Date           string         `json:"date"`
	ExistingTotal  entity.Percent `json:"existing_total"`
	Proposed       entity.Percent `json:"proposed"`
	ResultingTotal entity.Percent `json:"resulting_total"`
	Excess         entity.Percent `json:"excess"`
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Payloads
// survive the mapping: conflicts keep the winner's state, capacity
// failures keep their totals.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		httputil.WriteJSON(w, http.StatusConflict, conflictResponse{
			Error:        conflict.Error(),
			EntityType:   conflict.EntityType,
			EntityID:     conflict.EntityID,
			CurrentState: conflict.CurrentState,
		})
		return
	}

	var capacity *allocation.CapacityExceededError
	if errors.As(err, &capacity) {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, capacityResponse{
			Error:          capacity.Error(),
			WorkerKey:      capacity.WorkerKey,
			Date:           capacity.Date,
			ExistingTotal:  capacity.ExistingTotal,
			Proposed:       capacity.Proposed,
			ResultingTotal: capacity.ResultingTotal,
			Excess:         capacity.Excess,
		})
		return
	}

	switch {
	case access.IsDenied(err):
		httputil.WriteForbidden(w, err.Error())
	case store.IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case entity.IsValidation(err):
		httputil.WriteValidationError(w, err.Error())
	case errors.Is(err, store.ErrHasChildren):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}
