package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/GeoDaCenter/gdabridge/internal/project"
	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

const (
	InterfaceProject = "project"
	InterfaceTable   = "table"
	InterfaceWeights = "weights"
)

var arities = map[string]int{
	"univariate":  1,
	"bivariate":   2,
	"trivariate":  3,
	"quadvariate": 4,
}

var defaultVarTitles = []string{
	"First Variable (X)",
	"Second Variable (Y)",
	"Third Variable (Z)",
	"Fourth Variable",
}

// VarRequest describes a variable-settings prompt.
type VarRequest struct {
	Arity       int
	ShowWeights bool
	Title       string
	VarTitles   []string
}

// VarChoice is the answer to a VarRequest. Columns and Times are aligned.
type VarChoice struct {
	Columns []int
	Times   []int
}

// VarChooser stands in for the interactive variable-settings dialog. ok is
// false when the user cancels.
type VarChooser interface {
	ChooseVariables(ctx context.Context, table *project.Table, req VarRequest) (choice VarChoice, ok bool, err error)
}

// PresetChooser answers every prompt with a fixed list of column names. It
// cancels when fewer names than requested are configured or a name is unknown.
type PresetChooser struct {
	Names []string
}

func (c PresetChooser) ChooseVariables(_ context.Context, table *project.Table, req VarRequest) (VarChoice, bool, error) {
	if len(c.Names) < req.Arity {
		return VarChoice{}, false, nil
	}
	var choice VarChoice
	for _, name := range c.Names[:req.Arity] {
		col, ok := table.ColumnByName(name)
		if !ok {
			return VarChoice{}, false, nil
		}
		choice.Columns = append(choice.Columns, col)
		choice.Times = append(choice.Times, 0)
	}
	return choice, true, nil
}

type varInfo struct {
	Col         int                `json:"col"`
	Name        string             `json:"name"`
	Time        int                `json:"time"`
	TimeVariant bool               `json:"time_variant"`
	Decimals    int                `json:"displayed_decimals"`
	Type        project.ColumnType `json:"type"`
	Data        [][]any            `json:"data"`
}

// RegisterProjectOperations installs the built-in table and project
// operations backed by p.
func RegisterProjectOperations(r *Registry, p *project.Project, chooser VarChooser) {
	if chooser == nil {
		chooser = PresetChooser{}
	}
	table := p.Table()

	r.Register(InterfaceTable, "getName", func(_ context.Context, d protocol.RequestDescriptor) (any, error) {
		col, err := columnArg(table, d)
		if err != nil {
			return nil, err
		}
		return col.Name, nil
	})

	r.Register(InterfaceTable, "getColData", func(_ context.Context, d protocol.RequestDescriptor) (any, error) {
		col, err := columnArg(table, d)
		if err != nil {
			return nil, err
		}
		var t int
		ok, err := d.DecodeArg("time", &t)
		if err != nil {
			return nil, fmt.Errorf("time: %w", err)
		}
		if !ok {
			return col.Data, nil
		}
		return col.Step(t)
	})

	r.Register(InterfaceTable, "getColumns", func(context.Context, protocol.RequestDescriptor) (any, error) {
		type colInfo struct {
			Col         int                `json:"col"`
			Name        string             `json:"name"`
			Type        project.ColumnType `json:"type"`
			TimeVariant bool               `json:"time_variant"`
		}
		cols := make([]colInfo, 0, len(table.Columns))
		for i, c := range table.Columns {
			cols = append(cols, colInfo{Col: i, Name: c.Name, Type: c.Type, TimeVariant: c.TimeVariant()})
		}
		return cols, nil
	})

	r.Register(InterfaceProject, "getSelected", func(ctx context.Context, _ protocol.RequestDescriptor) (any, error) {
		return p.Selected(ctx)
	})

	r.Register(InterfaceProject, "getTimeInfo", func(ctx context.Context, _ protocol.RequestDescriptor) (any, error) {
		curr, err := p.CurrTime(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"time_info": table.TimeSteps, "current_time": curr}, nil
	})

	r.Register(InterfaceProject, "getWeights", func(context.Context, protocol.RequestDescriptor) (any, error) {
		return p.Weights(), nil
	})

	r.Register(InterfaceWeights, "add", func(ctx context.Context, d protocol.RequestDescriptor) (any, error) {
		var title string
		if _, err := d.DecodeArg("title", &title); err != nil || title == "" {
			return nil, errors.New("title missing or invalid")
		}
		return map[string]string{"weights_uuid": p.AddWeights(ctx, "", title).String()}, nil
	})

	r.Register(InterfaceWeights, "rename", func(ctx context.Context, d protocol.RequestDescriptor) (any, error) {
		id, err := weightsArg(d)
		if err != nil {
			return nil, err
		}
		var title string
		if _, err := d.DecodeArg("title", &title); err != nil || title == "" {
			return nil, errors.New("title missing or invalid")
		}
		return true, p.RenameWeights(ctx, "", id, title)
	})

	r.Register(InterfaceWeights, "remove", func(ctx context.Context, d protocol.RequestDescriptor) (any, error) {
		id, err := weightsArg(d)
		if err != nil {
			return nil, err
		}
		return true, p.RemoveWeights(ctx, "", id)
	})

	r.Register(InterfaceProject, "promptVarSettings", func(ctx context.Context, d protocol.RequestDescriptor) (any, error) {
		return promptVarSettings(ctx, p, chooser, d)
	})
}

func weightsArg(d protocol.RequestDescriptor) (uuid.UUID, error) {
	var raw string
	if _, err := d.DecodeArg("weights_uuid", &raw); err != nil {
		return uuid.Nil, fmt.Errorf("weights_uuid: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("weights_uuid: %w", err)
	}
	return id, nil
}

func columnArg(table *project.Table, d protocol.RequestDescriptor) (project.Column, error) {
	var col int
	ok, err := d.DecodeArg("col", &col)
	if err != nil {
		return project.Column{}, fmt.Errorf("col: %w", err)
	}
	if !ok {
		return project.Column{}, errors.New("missing col")
	}
	return table.Column(col)
}

func promptVarSettings(ctx context.Context, p *project.Project, chooser VarChooser, d protocol.RequestDescriptor) (any, error) {
	var arityName string
	if _, err := d.DecodeArg("arity", &arityName); err != nil {
		return nil, fmt.Errorf("arity: %w", err)
	}
	arity, ok := arities[arityName]
	if !ok {
		return nil, errors.New("arity missing or invalid")
	}

	req := VarRequest{Arity: arity, Title: "Variable Settings", VarTitles: append([]string(nil), defaultVarTitles[:arity]...)}
	if _, err := d.DecodeArg("title", &req.Title); err != nil {
		return nil, fmt.Errorf("title: %w", err)
	}
	if _, err := d.DecodeArg("show_weights", &req.ShowWeights); err != nil {
		return nil, fmt.Errorf("show_weights: %w", err)
	}
	for i := range req.VarTitles {
		if _, err := d.DecodeArg(fmt.Sprintf("var%d_title", i+1), &req.VarTitles[i]); err != nil {
			return nil, fmt.Errorf("var%d_title: %w", i+1, err)
		}
	}

	table := p.Table()
	choice, ok, err := chooser.ChooseVariables(ctx, table, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"user_cancel": nil}, nil
	}

	curr, err := p.CurrTime(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := p.Selected(ctx)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{
		"time_info":    table.TimeSteps,
		"current_time": curr,
		"selected":     sel,
	}
	for i, colIdx := range choice.Columns {
		col, err := table.Column(colIdx)
		if err != nil {
			return nil, err
		}
		resp[fmt.Sprintf("var%d", i+1)] = varInfo{
			Col:         colIdx,
			Name:        col.Name,
			Time:        choice.Times[i],
			TimeVariant: col.TimeVariant(),
			Decimals:    col.Decimals,
			Type:        col.Type,
			Data:        col.Data,
		}
	}
	if req.ShowWeights {
		if ws := p.Weights(); len(ws) > 0 {
			resp["weights"] = ws[0]
		} else {
			resp["weights"] = nil
		}
	}
	return resp, nil
}
