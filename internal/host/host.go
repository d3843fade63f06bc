// Package host implements the application side of the page bridge: it reads
// actions out of page titles, answers correlated requests and keeps attached
// pages informed about project state changes.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GeoDaCenter/gdabridge/internal/project"
	"github.com/GeoDaCenter/gdabridge/internal/protocol"
	"github.com/GeoDaCenter/gdabridge/internal/store"
)

const defaultHandledTTL = 24 * time.Hour

// Page is a rendered page the host can talk back to.
type Page interface {
	ID() string
	Respond(ctx context.Context, env protocol.ResponseEnvelope) error
	Update(ctx context.Context, n protocol.Notification) error
}

type Host struct {
	project  *project.Project
	store    store.Store
	registry *Registry
	logger   *zap.Logger

	handledTTL time.Duration
	onClose    func(ctx context.Context, page Page)

	pageMu sync.RWMutex
	pages  map[string]Page
}

type Option func(*Host)

func WithLogger(logger *zap.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRegistry replaces the operation registry. The project operations are
// not installed into a supplied registry.
func WithRegistry(r *Registry) Option {
	return func(h *Host) { h.registry = r }
}

// WithChooser sets the stand-in for the variable-settings dialog.
func WithChooser(c VarChooser) Option {
	return func(h *Host) {
		h.registry = NewRegistry()
		RegisterProjectOperations(h.registry, h.project, c)
	}
}

// WithOnClose installs the hook run when a page asks to be closed.
func WithOnClose(fn func(ctx context.Context, page Page)) Option {
	return func(h *Host) { h.onClose = fn }
}

// WithHandledTTL bounds how long answered callback ids are remembered.
func WithHandledTTL(ttl time.Duration) Option {
	return func(h *Host) {
		if ttl > 0 {
			h.handledTTL = ttl
		}
	}
}

func New(p *project.Project, st store.Store, opts ...Option) *Host {
	h := &Host{
		project:    p,
		store:      st,
		logger:     zap.NewNop(),
		handledTTL: defaultHandledTTL,
		pages:      make(map[string]Page),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registry == nil {
		h.registry = NewRegistry()
		RegisterProjectOperations(h.registry, p, nil)
	}
	h.logger = h.logger.Named("host")
	p.Subscribe(h.broadcast)
	return h
}

func (h *Host) Registry() *Registry { return h.registry }

// Attach registers page for update notifications and sends it the Ready
// notification carrying the initial project state.
func (h *Host) Attach(ctx context.Context, page Page) error {
	h.pageMu.Lock()
	h.pages[page.ID()] = page
	count := len(h.pages)
	h.pageMu.Unlock()
	h.logger.Info("page attached", zap.String("session_id", page.ID()), zap.Int("active_pages", count))

	curr, err := h.project.CurrTime(ctx)
	if err != nil {
		return err
	}
	sel, err := h.project.Selected(ctx)
	if err != nil {
		return err
	}
	table := h.project.Table()
	ready := protocol.Notification{Observable: protocol.ObservableReady}.
		With("time_info", table.TimeSteps).
		With("current_time", curr).
		With("selected", sel).
		With("rows", table.Rows())
	return page.Update(ctx, ready)
}

func (h *Host) Detach(page Page) {
	h.pageMu.Lock()
	delete(h.pages, page.ID())
	count := len(h.pages)
	h.pageMu.Unlock()
	h.logger.Info("page detached", zap.String("session_id", page.ID()), zap.Int("active_pages", count))
}

// broadcast forwards a project change to every attached page except the one
// that caused it.
func (h *Host) broadcast(ctx context.Context, origin string, n protocol.Notification) {
	h.pageMu.RLock()
	targets := make([]Page, 0, len(h.pages))
	for id, p := range h.pages {
		if id != origin {
			targets = append(targets, p)
		}
	}
	h.pageMu.RUnlock()

	h.logger.Debug("broadcast update",
		zap.String("observable", n.Observable),
		zap.String("event", n.Event),
		zap.String("origin", origin),
		zap.Int("count", len(targets)))
	for _, p := range targets {
		if err := p.Update(ctx, n); err != nil {
			h.logger.Warn("update page failed", zap.String("session_id", p.ID()), zap.Error(err))
		}
	}
}

// HandleTitle reacts to a page title change. Titles that carry no bridge
// action are ignored.
func (h *Host) HandleTitle(ctx context.Context, page Page, title string) error {
	msg, err := protocol.ParseTitle(title)
	if errors.Is(err, protocol.ErrNotAction) {
		h.logger.Debug("ignore plain title", zap.String("session_id", page.ID()))
		return nil
	}
	if err != nil {
		return err
	}

	switch msg.Action {
	case protocol.ActionRequest:
		return h.handleRequest(ctx, page, msg)
	case protocol.ActionNotify:
		return h.handleNotify(ctx, page, msg)
	case protocol.ActionClose:
		h.logger.Info("page requested close", zap.String("session_id", page.ID()))
		if h.onClose != nil {
			h.onClose(ctx, page)
		}
		return nil
	default:
		h.logger.Debug("ignore unknown action", zap.String("session_id", page.ID()), zap.String("action", msg.Action))
		return nil
	}
}

func (h *Host) handleRequest(ctx context.Context, page Page, msg protocol.TitleMessage) error {
	env, err := msg.Request()
	if err != nil {
		return err
	}
	log := h.logger.With(zap.String("session_id", page.ID()), zap.String("callback_id", env.CallbackID))

	seen, err := h.store.IsHandled(ctx, page.ID(), env.CallbackID)
	if err != nil {
		return err
	}
	if seen {
		log.Debug("duplicate request ignored")
		return nil
	}

	descriptors := make([]protocol.RequestDescriptor, 0, len(env.Requests))
	for _, raw := range env.Requests {
		d, err := protocol.DecodeDescriptor(raw)
		if err != nil {
			return fmt.Errorf("request %s: %w", env.CallbackID, err)
		}
		descriptors = append(descriptors, d)
	}

	responses := make([]json.RawMessage, len(descriptors))
	for i, d := range descriptors {
		resp, err := h.registry.Dispatch(ctx, d)
		if err != nil {
			log.Warn("operation failed",
				zap.String("interface", d.Interface),
				zap.String("operation", d.Operation),
				zap.Error(err))
		}
		responses[i] = resp
	}

	if err := h.store.MarkHandled(ctx, page.ID(), env.CallbackID, h.handledTTL); err != nil {
		return err
	}
	if err := page.Respond(ctx, protocol.ResponseEnvelope{CallbackID: env.CallbackID, Responses: responses}); err != nil {
		_ = h.store.SetResponseStatus(ctx, page.ID(), env.CallbackID, "failed", h.handledTTL)
		return fmt.Errorf("respond %s: %w", env.CallbackID, err)
	}
	log.Debug("request answered", zap.Int("responses", len(responses)))
	return h.store.SetResponseStatus(ctx, page.ID(), env.CallbackID, "done", h.handledTTL)
}

func (h *Host) handleNotify(ctx context.Context, page Page, msg protocol.TitleMessage) error {
	n, err := msg.Notification()
	if err != nil {
		return err
	}
	switch n.Observable {
	case protocol.ObservableHighlight:
		ev, err := highlightEvent(n)
		if err != nil {
			return err
		}
		return h.project.ApplyHighlight(ctx, page.ID(), ev)
	case protocol.ObservableTime:
		var t int
		ok, err := n.Field("time", &t)
		if err != nil {
			return fmt.Errorf("time: %w", err)
		}
		if !ok {
			return errors.New("could not find time")
		}
		return h.project.SetCurrTime(ctx, page.ID(), t)
	default:
		return fmt.Errorf("no handler defined for observable %s", n.Observable)
	}
}

// highlightEvent reads a page's HighlightState notify. Pages send the event
// kind as "event_type"; "event" is accepted as well.
func highlightEvent(n protocol.Notification) (project.HighlightEvent, error) {
	ev := project.HighlightEvent{Type: n.Event}
	if _, err := n.Field("event_type", &ev.Type); err != nil {
		return ev, fmt.Errorf("event_type: %w", err)
	}
	if ev.Type == "" {
		return ev, errors.New("could not find event_type")
	}
	if ev.Type != project.EventDelta {
		return ev, nil
	}
	ok, err := n.Field("newly_highlighted", &ev.NewlyHighlighted)
	if err != nil || !ok {
		return ev, errors.New("newly_highlighted not found")
	}
	ok, err = n.Field("newly_unhighlighted", &ev.NewlyUnhighlighted)
	if err != nil || !ok {
		return ev, errors.New("newly_unhighlighted not found")
	}
	return ev, nil
}
