package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// Name is the controller name used in logs.
const Name = "history"

const (
	defaultRetention     = 7 * 24 * time.Hour
	defaultPruneInterval = time.Hour
	mailboxSize          = 256
)

// Options configures a history Controller.
type Options struct {
	Retention     time.Duration
	PruneInterval time.Duration
	Logger        *logging.Logger
}

// Controller records every characteristic update and connectivity change
// to SQLite and prunes entries past the retention window.
type Controller struct {
	controller.Inbox

	repo          *Repository
	retention     time.Duration
	pruneInterval time.Duration
	logger        *logging.Logger
	mailbox       *actor.Mailbox[controller.Event]
}

// New returns a history controller over repo. Call Run to start it.
func New(repo *Repository, opts Options) *Controller {
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = defaultPruneInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	mailbox, inbox := controller.NewInbox(Name, mailboxSize)
	return &Controller{
		Inbox:         inbox,
		repo:          repo,
		retention:     opts.Retention,
		pruneInterval: opts.PruneInterval,
		logger:        opts.Logger.With("controller", Name),
		mailbox:       mailbox,
	}
}

// History returns recent entries for an accessory, newest first.
func (c *Controller) History(ctx context.Context, accessoryID uuid.UUID, limit int) ([]Entry, error) {
	return c.repo.History(ctx, accessoryID, limit)
}

// Run writes queued events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer c.mailbox.Close()

	ticker := time.NewTicker(c.pruneInterval)
	defer ticker.Stop()

	c.logger.Info("history controller running", "retention", c.retention)
	for {
		select {
		case e := <-c.mailbox.Receive():
			c.record(ctx, e)
		case <-ticker.C:
			c.prune(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Controller) record(ctx context.Context, e controller.Event) {
	var err error
	switch e.Kind {
	case controller.EventConnected:
		err = c.repo.RecordConnectivity(ctx, e.AccessoryID, true, e.At)
	case controller.EventDisconnected:
		err = c.repo.RecordConnectivity(ctx, e.AccessoryID, false, e.At)
	case controller.EventUpdated:
		err = c.repo.Record(ctx, e.AccessoryID, e.Service, e.Characteristic, e.At)
	}
	if err != nil {
		c.logger.Warn("failed to record event",
			"event", e.Kind.String(),
			"accessory_id", e.AccessoryID.String(),
			"error", err,
		)
	}
}

func (c *Controller) prune(ctx context.Context) {
	n, err := c.repo.Prune(ctx, c.retention)
	if err != nil {
		c.logger.Warn("history prune failed", "error", err)
		return
	}
	if n > 0 {
		c.logger.Debug("pruned history", "rows", n)
	}
}
