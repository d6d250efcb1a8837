package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/db"
)

// StateInspector reports what the state database holds.
type StateInspector interface {
	Tables(ctx context.Context) ([]db.TableInfo, error)
}

// StateHandler exposes the persisted viewer state for diagnostics.
type StateHandler struct {
	state StateInspector
}

// NewStateHandler creates a state handler. A nil inspector means the
// viewer keeps its state in memory.
func NewStateHandler(state StateInspector) *StateHandler {
	return &StateHandler{state: state}
}

// RegisterRoutes registers state routes with Huma.
func (h *StateHandler) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-state-tables",
		Method:      "GET",
		Path:        "/api/v1/state/tables",
		Summary:     "List state tables",
		Description: "Lists the DuckDB tables holding layers, styles and geometry kinds with their row counts.",
		Tags:        []string{"State"},
	}, h.ListTables)
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []db.TableInfo `json:"tables" doc:"State tables"`
	}
}

// ListTables returns the state tables.
func (h *StateHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.state == nil {
		return nil, huma.Error503ServiceUnavailable("State is kept in memory; start with --data-dir to persist it")
	}
	tables, err := h.state.Tables(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	out := &TablesOutput{}
	out.Body.Tables = tables
	return out, nil
}
