package viewer

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/humastar"
	"github.com/giscaleing/visor-sig/internal/service"
)

// OpenTable opens the attribute table on a layer at page 1.
func (h *PanelHandler) OpenTable(ctx context.Context, input *LayerInput) (*huma.StreamResponse, error) {
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		if err := h.viewer.OpenTable(input.ID); err != nil {
			sse.Error(errorMessage(err))
			return
		}
		sse.Signals(map[string]any{"showTable": true})
		h.patchTable(sse, signals)
	}), nil
}

// TablePageInput moves the open table.
type TablePageInput struct {
	Direction string `query:"dir" enum:"prev,next" doc:"Page direction"`
	RawBody   []byte
}

// TablePage moves the open table one page back or forward.
func (h *PanelHandler) TablePage(ctx context.Context, input *TablePageInput) (*huma.StreamResponse, error) {
	signals, err := (&humastar.SignalsInput{RawBody: input.RawBody}).MustParse()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		if input.Direction == "prev" {
			h.viewer.PrevTablePage()
		} else {
			h.viewer.NextTablePage()
		}
		h.patchTable(sse, signals)
	}), nil
}

// ColumnInput names a table column.
type ColumnInput struct {
	Column  string `path:"column" doc:"Column name" example:"barrio"`
	RawBody []byte
}

// ToggleColumn shows or hides one column of the open table.
func (h *PanelHandler) ToggleColumn(ctx context.Context, input *ColumnInput) (*huma.StreamResponse, error) {
	signals, err := (&humastar.SignalsInput{RawBody: input.RawBody}).MustParse()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		h.viewer.Table().Toggle(input.Column)
		h.patchTable(sse, signals)
	}), nil
}

// CloseTable closes the attribute table.
func (h *PanelHandler) CloseTable(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		h.viewer.CloseTable()
		sse.Signals(map[string]any{"showTable": false})
		sse.Patch("", "#attr-table")
	}), nil
}

// patchTable loads the open table for the viewport in the signals. A load
// overtaken by a newer one leaves the page to the newer response.
func (h *PanelHandler) patchTable(sse humastar.SSE, signals humastar.Signals) {
	b, err := signals.Bound()
	if err != nil {
		sse.Error(err.Error())
		return
	}
	page, err := h.viewer.LoadTable(sse.Context(), b)
	switch {
	case errors.Is(err, service.ErrSuperseded):
		return
	case err != nil:
		h.log.Warn("attribute table load failed", "error", err)
		id, _ := h.viewer.Table().State()
		page = service.TablePage{LayerID: id, Pagination: service.Pagination{Page: 1, PageSize: h.viewer.PageSize()}}
	}
	sse.Patch(h.Render("attr-table", page), "#attr-table")
}
