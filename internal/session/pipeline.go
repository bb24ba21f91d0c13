package session

import (
	"github.com/Mr-Dark-debug/radview/internal/event"
)

// loadPipeline folds bus events into the controller's session. It proposes
// transitions through controller methods and never touches Session itself.
type loadPipeline struct {
	c   *Controller
	sub *event.Subscription
}

func newLoadPipeline(c *Controller) *loadPipeline {
	return &loadPipeline{c: c}
}

func (p *loadPipeline) attach(bus *event.Bus) {
	if p.sub != nil {
		return
	}
	p.sub = bus.SubscribeAll(p.handle)
}

func (p *loadPipeline) release() {
	p.sub.Release()
	p.sub = nil
}

func (p *loadPipeline) handle(ev event.Event) {
	gen := ev.Generation()
	if !p.c.accepts(gen) {
		p.c.log.Debug("ignoring event", "type", ev.EventType(), "generation", gen, "current", p.c.session.Generation)
		return
	}

	switch e := ev.(type) {
	case event.LoadStart:
		p.c.confirmLoading(gen)
	case event.Progress:
		p.c.advanceProgress(gen, e.Percent())
	case event.RenderEnd:
		p.c.autoSelectScroll(gen)
	case event.DataLoaded:
		p.c.mergeMetadata(gen, e.DataID)
	case event.LoadEnd:
		p.c.complete(gen)
	case event.LoadFailed:
		p.c.fail(gen, ErrorDetail{Code: e.Code, Message: e.Message, DataID: e.DataID})
	}
}
