package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hrlink/hrchat/internal/rest"
)

// DefaultListRefreshInterval matches the conversation list's refresh cadence.
const DefaultListRefreshInterval = 10 * time.Second

// ConversationLister fetches the server-side conversation list. *rest.Client
// satisfies it.
type ConversationLister interface {
	Conversations(ctx context.Context) ([]rest.ConversationPreview, error)
}

// ListPoller refreshes the conversation list on a fixed interval. Unread
// badges for background conversations come from here rather than the live
// socket feed. The poller stops when its context is canceled; the interval
// timer never outlives the view that started it.
type ListPoller struct {
	lister   ConversationLister
	store    *Store
	interval time.Duration
	log      *zap.Logger
	onUpdate func([]rest.ConversationPreview)
}

func NewListPoller(lister ConversationLister, store *Store, interval time.Duration, log *zap.Logger) *ListPoller {
	if interval <= 0 {
		interval = DefaultListRefreshInterval
	}
	return &ListPoller{lister: lister, store: store, interval: interval, log: log}
}

// OnUpdate installs a hook invoked with each successful refresh.
func (p *ListPoller) OnUpdate(fn func([]rest.ConversationPreview)) {
	p.onUpdate = fn
}

// Run fetches immediately, then on every tick until ctx is canceled. Fetch
// failures are logged and retried next tick; they never stop the poller.
func (p *ListPoller) Run(ctx context.Context) {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *ListPoller) refresh(ctx context.Context) {
	previews, err := p.lister.Conversations(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("conversation list refresh failed", zap.Error(err))
		}
		return
	}
	p.store.ApplyPreviews(previews)
	if p.onUpdate != nil {
		p.onUpdate(previews)
	}
}
