package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tallyworks/tally/pkg/allocation"
	"github.com/tallyworks/tally/pkg/entity"
	"github.com/tallyworks/tally/pkg/httputil"
	"github.com/tallyworks/tally/pkg/service"
)

// AllocationHandlers serves capacity validation and reporting.
type AllocationHandlers struct {
	service *service.Service
}

// NewAllocationHandlers creates the allocation handler group.
func NewAllocationHandlers(svc *service.Service) *AllocationHandlers {
	return &AllocationHandlers{service: svc}
}

// RegisterRoutes registers the allocation routes.
func (h *AllocationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/allocations/validate", h.validate).Methods("POST")
	router.HandleFunc("/api/v1/allocations/validate-batch", h.validateBatch).Methods("POST")
	router.HandleFunc("/api/v1/allocations/breakdown", h.breakdown).Methods("GET")
	router.HandleFunc("/api/v1/allocations/over-allocated", h.overAllocated).Methods("GET")
}

func (h *AllocationHandlers) validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateAllocationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.WorkerKey, "worker_key") {
		return
	}
	if err := entity.ValidateDate(req.Date); err != nil {
		httputil.WriteValidationError(w, "date: "+err.Error())
		return
	}

	if err := h.service.ValidateAllocation(r.Context(), req.WorkerKey, req.Date, req.Percentage, req.ExcludeID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"valid": true})
}

func (h *AllocationHandlers) validateBatch(w http.ResponseWriter, r *http.Request) {
	var req ValidateBatchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	for _, rec := range req.Records {
		if rec.WorkerKey == "" {
			httputil.WriteValidationError(w, "worker_key is required on every record")
			return
		}
		if err := entity.ValidateDate(rec.Date); err != nil {
			httputil.WriteValidationError(w, "date: "+err.Error())
			return
		}
	}

	conflicts, err := h.service.ValidateAllocationBatch(r.Context(), req.Records)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []*allocation.CapacityExceededError{}
	}
	httputil.WriteSuccess(w, ValidateBatchResponse{Valid: len(conflicts) == 0, Conflicts: conflicts})
}

func (h *AllocationHandlers) breakdown(w http.ResponseWriter, r *http.Request) {
	workerKey := httputil.ParseQueryString(r, "worker_key", "")
	date := httputil.ParseQueryString(r, "date", "")
	if !httputil.RequireNonEmpty(w, workerKey, "worker_key") {
		return
	}
	if err := entity.ValidateDate(date); err != nil {
		httputil.WriteValidationError(w, "date: "+err.Error())
		return
	}

	shares, err := h.service.WorkerDayBreakdown(r.Context(), workerKey, date)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var total entity.Percent
	for _, s := range shares {
		total += s.Total
	}
	httputil.WriteSuccess(w, BreakdownResponse{
		WorkerKey: workerKey,
		Date:      date,
		Shares:    shares,
		Total:     total,
	})
}

func (h *AllocationHandlers) overAllocated(w http.ResponseWriter, r *http.Request) {
	from := httputil.ParseQueryString(r, "from", "")
	to := httputil.ParseQueryString(r, "to", "")
	if err := entity.ValidateDate(from); err != nil {
		httputil.WriteValidationError(w, "from: "+err.Error())
		return
	}
	if err := entity.ValidateDate(to); err != nil {
		httputil.WriteValidationError(w, "to: "+err.Error())
		return
	}
	if to < from {
		httputil.WriteValidationError(w, "to must not precede from")
		return
	}

	results, err := h.service.OverAllocationReport(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, OverAllocationResponse{From: from, To: to, Results: results})
}
