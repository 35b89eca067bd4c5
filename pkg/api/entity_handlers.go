package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tallyworks/tally/pkg/entity"
	"github.com/tallyworks/tally/pkg/httputil"
	"github.com/tallyworks/tally/pkg/middleware"
	"github.com/tallyworks/tally/pkg/service"
	"github.com/tallyworks/tally/pkg/store"
)

// collections maps URL path segments to entity types. The HTTP surface is
// uniform across collections; everything type-specific happens in the
// service facade.
var collections = map[string]entity.Type{
	"portfolios":        entity.TypePortfolio,
	"programs":          entity.TypeProgram,
	"projects":          entity.TypeProject,
	"project-phases":    entity.TypeProjectPhase,
	"worker-types":      entity.TypeWorkerType,
	"workers":           entity.TypeWorker,
	"rates":             entity.TypeRate,
	"resources":         entity.TypeResource,
	"assignments":       entity.TypeResourceAssignment,
	"actuals":           entity.TypeActual,
	"users":             entity.TypeUser,
	"user-roles":        entity.TypeUserRole,
	"scope-assignments": entity.TypeScopeAssignment,
}

// listFilters names the one query parameter each collection may filter
// on, matching its parent reference.
var listFilters = map[entity.Type]string{
	entity.TypeProgram:            "portfolio_id",
	entity.TypeProject:            "program_id",
	entity.TypeProjectPhase:       "project_id",
	entity.TypeWorker:             "worker_type_id",
	entity.TypeRate:               "worker_type_id",
	entity.TypeResourceAssignment: "project_id",
	entity.TypeActual:             "project_id",
	entity.TypeUserRole:           "user_id",
	entity.TypeScopeAssignment:    "user_role_id",
}

// EntityHandlers serves the uniform CRUD surface.
type EntityHandlers struct {
	service *service.Service
	store   *store.Store
}

// NewEntityHandlers creates the CRUD handler group.
func NewEntityHandlers(svc *service.Service, st *store.Store) *EntityHandlers {
	return &EntityHandlers{service: svc, store: st}
}

// RegisterRoutes registers the CRUD routes for every collection.
func (h *EntityHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/{collection}", h.create).Methods("POST")
	router.HandleFunc("/api/v1/{collection}", h.list).Methods("GET")
	router.HandleFunc("/api/v1/{collection}/{id}", h.get).Methods("GET")
	router.HandleFunc("/api/v1/{collection}/{id}", h.update).Methods("PUT")
	router.HandleFunc("/api/v1/{collection}/{id}", h.delete).Methods("DELETE")
}

func (h *EntityHandlers) entityType(w http.ResponseWriter, r *http.Request) (entity.Type, bool) {
	collection := mux.Vars(r)["collection"]
	t, ok := collections[collection]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown collection: "+collection)
		return "", false
	}
	return t, true
}

func (h *EntityHandlers) create(w http.ResponseWriter, r *http.Request) {
	t, ok := h.entityType(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	row, err := h.service.AuthorizeAndCreate(r.Context(), middleware.UserIDFromRequest(r), t, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, row)
}

func (h *EntityHandlers) list(w http.ResponseWriter, r *http.Request) {
	t, ok := h.entityType(w, r)
	if !ok {
		return
	}

	filterColumn := ""
	var filterValue interface{}
	if col, allowed := listFilters[t]; allowed {
		if v := r.URL.Query().Get(col); v != "" {
			filterColumn, filterValue = col, v
		}
	}

	rows, err := h.store.List(r.Context(), t, filterColumn, filterValue)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	visible, err := h.service.FilterListByScope(r.Context(), middleware.UserIDFromRequest(r), t, rows)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if visible == nil {
		visible = []store.Row{}
	}
	httputil.WriteSuccess(w, visible)
}

func (h *EntityHandlers) get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.entityType(w, r)
	if !ok {
		return
	}

	row, err := h.service.AuthorizeRead(r.Context(), middleware.UserIDFromRequest(r), t, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, row)
}

func (h *EntityHandlers) update(w http.ResponseWriter, r *http.Request) {
	t, ok := h.entityType(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ExpectedVersion < 1 {
		httputil.WriteValidationError(w, "expected_version must be at least 1")
		return
	}
	if len(req.Changes) == 0 {
		httputil.WriteValidationError(w, "changes must not be empty")
		return
	}

	row, err := h.service.AuthorizeAndUpdate(r.Context(), middleware.UserIDFromRequest(r),
		t, mux.Vars(r)["id"], req.ExpectedVersion, req.Changes)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, row)
}

func (h *EntityHandlers) delete(w http.ResponseWriter, r *http.Request) {
	t, ok := h.entityType(w, r)
	if !ok {
		return
	}

	if err := h.service.AuthorizeAndDelete(r.Context(), middleware.UserIDFromRequest(r), t, mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
