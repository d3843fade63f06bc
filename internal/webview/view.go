// Package webview hosts pages in a Chrome instance driven over the DevTools
// protocol. Pages talk to the host by setting their title; the host answers
// by evaluating gda.response and gda.update in the page.
package webview

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GeoDaCenter/gdabridge/internal/host"
	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

//go:embed gda.js
var bridgeScript string

// titleBinding is the function the injected script calls with every new title.
const titleBinding = "__gdaTitle"

type Options struct {
	Headless bool
	// ExecPath overrides the Chrome binary; empty uses the chromedp lookup.
	ExecPath string
	// TitleBuffer bounds titles and document events queued while the host is busy.
	TitleBuffer int
}

// View is one browser tab bridged to a host. Every document loaded in the
// tab is a separate page to the host: callback ids restart with each
// document, so the page id rotates on main-frame navigation.
type View struct {
	host   *host.Host
	logger *zap.Logger

	mu       sync.RWMutex
	id       string
	attached bool

	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	evaluate    func(script string) error

	events    chan tabEvent
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type eventKind int

const (
	eventTitle eventKind = iota
	eventNavigated
	eventLoaded
)

// tabEvent is a browser event queued for the worker. Titles and document
// changes share one queue so a new document's titles are handled under its
// own page id.
type tabEvent struct {
	kind  eventKind
	title string
}

var _ host.Page = (*View)(nil)

// Open starts a browser tab wired to h. The bridge script is installed on
// every new document before page scripts run.
func Open(ctx context.Context, h *host.Host, opts Options, logger *zap.Logger) (*View, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TitleBuffer <= 0 {
		opts.TitleBuffer = 64
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	v := newView(h, logger, opts.TitleBuffer)
	v.ctx = tabCtx
	v.cancelTab = cancelTab
	v.cancelAlloc = cancelAlloc
	v.evaluate = func(script string) error {
		return chromedp.Run(tabCtx, chromedp.Evaluate(script, nil))
	}

	// Listener callbacks run on the event loop and must not issue CDP
	// commands themselves; events are handed to a worker instead.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventBindingCalled:
			if ev.Name == titleBinding {
				v.enqueue(tabEvent{kind: eventTitle, title: ev.Payload})
			}
		case *page.EventFrameNavigated:
			if ev.Frame != nil && ev.Frame.ParentID == "" {
				v.enqueue(tabEvent{kind: eventNavigated})
			}
		case *page.EventLoadEventFired:
			v.enqueue(tabEvent{kind: eventLoaded})
		}
	})

	err := chromedp.Run(tabCtx,
		runtime.AddBinding(titleBinding),
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bridgeScript).Do(c)
			return err
		}),
	)
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	v.wg.Add(1)
	go v.run()
	return v, nil
}

func newView(h *host.Host, logger *zap.Logger, buffer int) *View {
	return &View{
		host:   h,
		logger: logger.Named("webview"),
		id:     uuid.NewString(),
		events: make(chan tabEvent, buffer),
	}
}

func (v *View) ID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.id
}

func (v *View) enqueue(ev tabEvent) {
	select {
	case v.events <- ev:
	default:
		v.logger.Warn("event queue full, dropping event", zap.Int("kind", int(ev.kind)))
	}
}

func (v *View) run() {
	defer v.wg.Done()
	for {
		select {
		case <-v.ctx.Done():
			return
		case ev := <-v.events:
			v.handle(v.ctx, ev)
		}
	}
}

func (v *View) handle(ctx context.Context, ev tabEvent) {
	switch ev.kind {
	case eventTitle:
		if err := v.host.HandleTitle(ctx, v, ev.title); err != nil {
			v.logger.Warn("handle title failed", zap.String("session_id", v.ID()), zap.Error(err))
		}
	case eventNavigated:
		v.mu.Lock()
		attached := v.attached
		v.attached = false
		v.mu.Unlock()
		if attached {
			v.host.Detach(v)
		}
		v.mu.Lock()
		v.id = uuid.NewString()
		v.mu.Unlock()
		v.logger.Debug("new document", zap.String("session_id", v.ID()))
	case eventLoaded:
		v.mu.Lock()
		v.attached = true
		v.mu.Unlock()
		if err := v.host.Attach(ctx, v); err != nil {
			v.logger.Warn("attach page failed", zap.String("session_id", v.ID()), zap.Error(err))
		}
	}
}

// Navigate loads url. The page is attached to the host once its load event
// fires, which sends it Ready; every later document in the tab gets the same.
func (v *View) Navigate(_ context.Context, url string) error {
	v.logger.Info("loading url", zap.String("url", url))
	if err := chromedp.Run(v.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (v *View) Respond(_ context.Context, env protocol.ResponseEnvelope) error {
	script, err := ResponseScript(env)
	if err != nil {
		return err
	}
	return v.eval(script)
}

func (v *View) Update(_ context.Context, n protocol.Notification) error {
	script, err := UpdateScript(n)
	if err != nil {
		return err
	}
	return v.eval(script)
}

func (v *View) eval(script string) error {
	v.logger.Debug("run script", zap.String("session_id", v.ID()), zap.Int("bytes", len(script)))
	return v.evaluate(script)
}

// Done is closed when the tab or browser goes away.
func (v *View) Done() <-chan struct{} { return v.ctx.Done() }

// Close detaches the page and shuts the browser down.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.mu.RLock()
		attached := v.attached
		v.mu.RUnlock()
		if attached {
			v.host.Detach(v)
		}
		v.cancelTab()
		v.cancelAlloc()
		v.wg.Wait()
	})
}
