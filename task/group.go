// Package task runs groups of long-lived, cancellable goroutines, such as the
// log Writer and Shipper of a served database, or the per-destination
// workers of a single Shipper scan.
package task

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group is a group of described tasks which run concurrently and are
// collectively waited upon. The first task to fail cancels the Group
// Context. A task which returns context.Canceled after the Group was
// cancelled has exited cleanly. Group is not itself thread-safe.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	queued  []func() error
	descs   []string
	started bool
}

// NewGroup returns a new, empty Group with a Context derived from |ctx|.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, cancel: cancel, eg: eg}
}

// Context of the Group. Tasks return upon its cancellation.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group Context.
func (g *Group) Cancel() { g.cancel() }

// Queue task |fn| described by |desc|. It panics if called after GoRun.
func (g *Group) Queue(desc string, fn func() error) {
	if g.started {
		panic("Queue called after GoRun")
	}
	g.queued = append(g.queued, fn)
	g.descs = append(g.descs, desc)
}

// Len is the number of queued tasks.
func (g *Group) Len() int { return len(g.queued) }

// GoRun starts all queued tasks. It panics if called twice.
func (g *Group) GoRun() {
	if g.started {
		panic("GoRun already called")
	}
	g.started = true

	for i, fn := range g.queued {
		var desc, fn = g.descs[i], fn
		g.eg.Go(func() error { return g.run(desc, fn) })
	}
}

func (g *Group) run(desc string, fn func() error) error {
	var started = time.Now()
	var err = fn()

	if err != nil && errors.Is(err, context.Canceled) && g.ctx.Err() != nil {
		err = nil
	}
	var entry = log.WithFields(log.Fields{
		"task":     desc,
		"duration": time.Since(started),
	})
	if err != nil {
		entry.WithField("err", err).Warn("task failed")
		return errors.WithMessage(err, desc)
	}
	entry.Debug("task exited")
	return nil
}

// Wait for started tasks, returning the first error annotated with its task
// description. The Group Context is cancelled on return. Wait panics if
// GoRun wasn't called.
func (g *Group) Wait() error {
	if !g.started {
		panic("Wait called before GoRun")
	}
	var err = g.eg.Wait()
	g.cancel()
	return err
}

// Stop cancels the Group and waits for its tasks.
func (g *Group) Stop() error {
	g.Cancel()
	return g.Wait()
}
