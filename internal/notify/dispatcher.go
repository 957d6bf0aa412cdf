package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher resolves users to device tokens and pushes events to them.
// None of its methods return an error: by the time a notification is sent
// the domain write has committed, and a push failure must not undo it.
type Dispatcher struct {
	users   repository.UserRepository
	gateway PushGateway
	logger  *zap.Logger
	workers int
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(users repository.UserRepository, gateway PushGateway, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 8
	}
	return &Dispatcher{
		users:   users,
		gateway: gateway,
		logger:  logger,
		workers: workers,
		timeout: 30 * time.Second,
	}
}

// Notify pushes ev to every device of userID. Unknown or inactive users and
// users without devices are skipped.
func (d *Dispatcher) Notify(ctx context.Context, userID uuid.UUID, ev Event) {
	log := d.logger.With(zap.String("user_id", userID.String()), zap.String("type", string(ev.Kind)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("push gateway panicked", zap.Any("panic", r))
		}
	}()

	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		log.Warn("resolve device tokens", zap.Error(err))
		return
	}
	if user == nil || !user.IsActive || len(user.DeviceTokens) == 0 {
		return
	}

	if err := d.gateway.Send(ctx, user.DeviceTokens, ev.Notification()); err != nil {
		log.Warn("push failed", zap.Int("tokens", len(user.DeviceTokens)), zap.Error(err))
		return
	}
	log.Debug("push sent", zap.Int("tokens", len(user.DeviceTokens)))
}

// NotifyAll runs one Notify per user in a bounded group. Each member
// swallows its own failure, so one bad recipient never cancels the others.
func (d *Dispatcher) NotifyAll(ctx context.Context, userIDs []uuid.UUID, ev Event) {
	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, id := range userIDs {
		g.Go(func() error {
			d.Notify(ctx, id, ev)
			return nil
		})
	}
	_ = g.Wait()
}

// Go is NotifyAll without waiting. The work outlives the request that
// triggered it, so it keeps ctx's values but not its cancellation, and is
// bounded by the dispatcher's own timeout.
func (d *Dispatcher) Go(ctx context.Context, userIDs []uuid.UUID, ev Event) {
	if len(userIDs) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.NotifyAll(ctx, userIDs, ev)
	}()
}

// Wait blocks until every notification started with Go has finished, or
// ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for notifications: %w", ctx.Err())
	}
}
