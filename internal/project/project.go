package project

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GeoDaCenter/gdabridge/internal/protocol"
	"github.com/GeoDaCenter/gdabridge/internal/store"
)

// Highlight event types, as they appear on the wire.
const (
	EventDelta          = "delta"
	EventUnhighlightAll = "unhighlight_all"
	EventInvert         = "invert"
	EventEmpty          = "empty"
)

// Weights event types.
const (
	EventWeightsAdd        = "add"
	EventWeightsRemove     = "remove"
	EventWeightsNameChange = "name_change"
)

// Listener is told about every state change. origin identifies whoever
// caused the change so it can be skipped when fanning out.
type Listener func(ctx context.Context, origin string, n protocol.Notification)

type HighlightEvent struct {
	Type               string
	NewlyHighlighted   []int
	NewlyUnhighlighted []int
}

type Weights struct {
	ID    uuid.UUID `json:"weights_uuid"`
	Title string    `json:"title"`
}

type Project struct {
	table  *Table
	store  store.Store
	logger *zap.Logger

	// mu serializes read-modify-write cycles on stored state.
	mu sync.Mutex

	wMu     sync.RWMutex
	weights map[uuid.UUID]Weights

	lMu       sync.RWMutex
	listeners []Listener
}

func New(table *Table, st store.Store, logger *zap.Logger) *Project {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == nil {
		table = &Table{TimeSteps: []string{""}}
	}
	return &Project{
		table:   table,
		store:   st,
		logger:  logger.Named("project"),
		weights: make(map[uuid.UUID]Weights),
	}
}

func (p *Project) Table() *Table { return p.table }

func (p *Project) Subscribe(l Listener) {
	p.lMu.Lock()
	defer p.lMu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Project) notify(ctx context.Context, origin string, n protocol.Notification) {
	p.lMu.RLock()
	listeners := append([]Listener(nil), p.listeners...)
	p.lMu.RUnlock()
	for _, l := range listeners {
		l(ctx, origin, n)
	}
}

// Selected returns the highlighted observations in ascending order.
func (p *Project) Selected(ctx context.Context) ([]int, error) {
	return p.store.GetSelection(ctx)
}

// ApplyHighlight changes the linked selection and notifies listeners. Empty
// events and deltas that change nothing are not broadcast.
func (p *Project) ApplyHighlight(ctx context.Context, origin string, ev HighlightEvent) error {
	n := p.table.Rows()
	for _, ids := range [][]int{ev.NewlyHighlighted, ev.NewlyUnhighlighted} {
		for _, id := range ids {
			if id < 0 || id >= n {
				return fmt.Errorf("%w: observation %d of %d", ErrOutOfRange, id, n)
			}
		}
	}

	p.mu.Lock()
	current, err := p.store.GetSelection(ctx)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("load selection: %w", err)
	}
	sel := make(map[int]struct{}, len(current))
	for _, id := range current {
		sel[id] = struct{}{}
	}

	var note protocol.Notification
	switch ev.Type {
	case EventEmpty:
		p.mu.Unlock()
		p.logger.Debug("empty highlight event, not notifying", zap.String("origin", origin))
		return nil
	case EventDelta:
		var added, removed []int
		for _, id := range ev.NewlyHighlighted {
			if _, ok := sel[id]; !ok {
				sel[id] = struct{}{}
				added = append(added, id)
			}
		}
		for _, id := range ev.NewlyUnhighlighted {
			if _, ok := sel[id]; ok {
				delete(sel, id)
				removed = append(removed, id)
			}
		}
		if len(added) == 0 && len(removed) == 0 {
			p.mu.Unlock()
			return nil
		}
		note = protocol.Notification{Observable: protocol.ObservableHighlight, Event: EventDelta}.
			With("newly_highlighted", nonNil(added)).
			With("newly_unhighlighted", nonNil(removed))
	case EventUnhighlightAll:
		sel = map[int]struct{}{}
		note = protocol.Notification{Observable: protocol.ObservableHighlight, Event: EventUnhighlightAll}
	case EventInvert:
		inv := make(map[int]struct{}, n-len(sel))
		for i := 0; i < n; i++ {
			if _, ok := sel[i]; !ok {
				inv[i] = struct{}{}
			}
		}
		sel = inv
		note = protocol.Notification{Observable: protocol.ObservableHighlight, Event: EventInvert}
	default:
		p.mu.Unlock()
		return fmt.Errorf("HighlightState event unrecognized: %s", ev.Type)
	}

	ids := make([]int, 0, len(sel))
	for id := range sel {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	err = p.store.SetSelection(ctx, ids)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save selection: %w", err)
	}

	p.logger.Debug("highlight changed", zap.String("origin", origin), zap.String("event", ev.Type), zap.Int("selected", len(ids)))
	p.notify(ctx, origin, note)
	return nil
}

func (p *Project) CurrTime(ctx context.Context) (int, error) {
	return p.store.GetCurrTime(ctx)
}

// SetCurrTime moves the project to time step t and notifies listeners.
func (p *Project) SetCurrTime(ctx context.Context, origin string, t int) error {
	if t < 0 || t >= len(p.table.TimeSteps) {
		return fmt.Errorf("%w: time value %d", ErrOutOfRange, t)
	}
	p.mu.Lock()
	err := p.store.SetCurrTime(ctx, t)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save time: %w", err)
	}
	p.notify(ctx, origin, protocol.Notification{Observable: protocol.ObservableTime}.
		With("curr_time", t).
		With("curr_time_str", p.table.TimeLabel(t)))
	return nil
}

// AddWeights registers a weights entry and returns its id.
func (p *Project) AddWeights(ctx context.Context, origin, title string) uuid.UUID {
	w := Weights{ID: uuid.New(), Title: title}
	p.wMu.Lock()
	p.weights[w.ID] = w
	p.wMu.Unlock()
	p.notify(ctx, origin, weightsNote(EventWeightsAdd, w.ID))
	return w.ID
}

func (p *Project) RenameWeights(ctx context.Context, origin string, id uuid.UUID, title string) error {
	p.wMu.Lock()
	w, ok := p.weights[id]
	if !ok {
		p.wMu.Unlock()
		return fmt.Errorf("unknown weights %s", id)
	}
	w.Title = title
	p.weights[id] = w
	p.wMu.Unlock()
	p.notify(ctx, origin, weightsNote(EventWeightsNameChange, id).With("new_title", title))
	return nil
}

func (p *Project) RemoveWeights(ctx context.Context, origin string, id uuid.UUID) error {
	p.wMu.Lock()
	if _, ok := p.weights[id]; !ok {
		p.wMu.Unlock()
		return fmt.Errorf("unknown weights %s", id)
	}
	delete(p.weights, id)
	p.wMu.Unlock()
	p.notify(ctx, origin, weightsNote(EventWeightsRemove, id))
	return nil
}

// Weights lists the registered weights ordered by title.
func (p *Project) Weights() []Weights {
	p.wMu.RLock()
	defer p.wMu.RUnlock()
	out := make([]Weights, 0, len(p.weights))
	for _, w := range p.weights {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Title < out[j].Title
	})
	return out
}

func weightsNote(event string, id uuid.UUID) protocol.Notification {
	return protocol.Notification{Observable: protocol.ObservableWeights, Event: event}.
		With("weights_uuid", id.String())
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}
