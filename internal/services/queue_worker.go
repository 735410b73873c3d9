package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"waitly/config"
	"waitly/internal/realtime"
	"waitly/internal/status"
	"waitly/models"
)

// QueueWorker runs the queue's background maintenance: the called-ticket
// grace timeout, periodic position fanout, and a health log. One
// goroutine per concern regardless of venue count.
type QueueWorker struct {
	Redis    *redis.Client
	broker   *realtime.Broker
	notifier realtime.Notifier
	tickets  *TicketService
	Config   *config.Config

	stopChan         chan struct{}
	wg               sync.WaitGroup
	activeGoroutines int64
}

func NewQueueWorker(
	redisClient *redis.Client,
	broker *realtime.Broker,
	notifier realtime.Notifier,
	tickets *TicketService,
	cfg *config.Config,
) *QueueWorker {
	return &QueueWorker{
		Redis:    redisClient,
		broker:   broker,
		notifier: notifier,
		tickets:  tickets,
		Config:   cfg,
		stopChan: make(chan struct{}),
	}
}

func (w *QueueWorker) Start() {
	w.wg.Add(1)
	go w.graceTimeoutManager()

	w.wg.Add(1)
	go w.positionUpdater()

	w.wg.Add(1)
	go w.healthMonitor()

	slog.Info("queue worker started", "goroutines", 3)
}

// graceTimeoutManager auto-cancels called tickets whose grace period has
// lapsed and promotes the next waiting ticket for the freed counter.
// Cancellation is idempotent, so racing a manual cancel is harmless.
func (w *QueueWorker) graceTimeoutManager() {
	defer w.wg.Done()
	atomic.AddInt64(&w.activeGoroutines, 1)
	defer atomic.AddInt64(&w.activeGoroutines, -1)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.expireCalledTickets()
		case <-w.stopChan:
			slog.Info("grace timeout manager stopping")
			return
		}
	}
}

func (w *QueueWorker) expireCalledTickets() {
	ctx := context.Background()

	venueIDs, err := w.Redis.SMembers(ctx, activeVenuesKey).Result()
	if err != nil {
		slog.Error("listing active venues", "error", err)
		return
	}

	cutoff := time.Now().Add(-w.Config.CalledGracePeriod).Unix()
	expired := 0

	for _, venueID := range venueIDs {
		ticketIDs, err := w.Redis.ZRangeByScore(ctx, calledKey(venueID), &redis.ZRangeBy{
			Min: "-inf",
			Max: fmt.Sprintf("%d", cutoff),
		}).Result()
		if err != nil {
			continue
		}

		for _, ticketID := range ticketIDs {
			ticket, err := w.tickets.GetTicket(ctx, ticketID)
			if err != nil {
				continue
			}

			if err := w.tickets.CancelTicket(ctx, ticketID, systemActor); err != nil {
				slog.Warn("grace-timeout cancel failed", "ticket_id", ticketID, "error", err)
				continue
			}
			expired++

			_ = w.notifier.Notify(ctx, ticket.UserID, "Turn missed",
				fmt.Sprintf("Ticket %s was not claimed in time and left the queue.", ticket.Token))

			// Promote the next waiting ticket onto the freed counter.
			// A counter closed since the ticket was called just stays
			// idle.
			if ticket.CounterUsed != "" {
				if _, err := w.tickets.AdvanceCounter(ctx, ticket.CounterUsed); err != nil &&
					!errors.Is(err, status.ErrNoWaitingTickets) &&
					!errors.Is(err, status.ErrCounterClosed) {
					slog.Warn("re-promotion after grace timeout failed",
						"counter_id", ticket.CounterUsed, "error", err)
				}
			}
		}
	}

	if expired > 0 {
		slog.Info("expired called tickets", "count", expired, "venues", len(venueIDs))
	}
}

// positionUpdater periodically recomputes FIFO positions for every
// active venue and fans them out, with notifications throttled by
// distance from the head of the queue.
func (w *QueueWorker) positionUpdater() {
	defer w.wg.Done()
	atomic.AddInt64(&w.activeGoroutines, 1)
	defer atomic.AddInt64(&w.activeGoroutines, -1)

	ticker := time.NewTicker(w.Config.QueuePositionUpdate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.updateAllPositions()
		case <-w.stopChan:
			slog.Info("position updater stopping")
			return
		}
	}
}

func (w *QueueWorker) updateAllPositions() {
	ctx := context.Background()

	venueIDs, err := w.Redis.SMembers(ctx, activeVenuesKey).Result()
	if err != nil {
		slog.Error("listing active venues", "error", err)
		return
	}

	for _, venueID := range venueIDs {
		ticketIDs, err := w.Redis.ZRange(ctx, waitingKey(venueID), 0, -1).Result()
		if err != nil {
			continue
		}

		for i, ticketID := range ticketIDs {
			position := i + 1

			userID, _ := w.Redis.HGet(ctx, ticketKey(ticketID), "user_id").Result()

			w.broker.Publish(models.TicketTopic(ticketID), models.ChangeEvent{
				Type:      models.EventQueuePosition,
				Timestamp: time.Now(),
				TicketID:  ticketID,
				VenueID:   venueID,
				UserID:    userID,
				Position:  position,
			})

			if userID != "" && shouldNotifyPosition(position) {
				_ = w.notifier.Notify(ctx, userID, "Queue update", positionMessage(position))
			}
		}
	}
}

// shouldNotifyPosition throttles pushes: users near the head hear often,
// the back of a long queue hears rarely.
func shouldNotifyPosition(position int) bool {
	switch {
	case position <= 5:
		return true
	case position <= 20:
		return position%2 == 0
	case position <= 100:
		return position%10 == 0
	}
	return position%50 == 0
}

func positionMessage(position int) string {
	switch {
	case position == 1:
		return "You're next!"
	case position <= 5:
		return fmt.Sprintf("Almost there! You're #%d", position)
	}
	return fmt.Sprintf("You are #%d in line", position)
}

// healthMonitor logs periodic queue and runtime stats.
func (w *QueueWorker) healthMonitor() {
	defer w.wg.Done()
	atomic.AddInt64(&w.activeGoroutines, 1)
	defer atomic.AddInt64(&w.activeGoroutines, -1)

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.logHealthStats()
		case <-w.stopChan:
			return
		}
	}
}

func (w *QueueWorker) logHealthStats() {
	ctx := context.Background()

	venueIDs, _ := w.Redis.SMembers(ctx, activeVenuesKey).Result()

	totalWaiting := 0
	totalCalled := 0
	for _, venueID := range venueIDs {
		waiting, _ := w.Redis.ZCard(ctx, waitingKey(venueID)).Result()
		called, _ := w.Redis.ZCard(ctx, calledKey(venueID)).Result()
		totalWaiting += int(waiting)
		totalCalled += int(called)
	}

	memStats := &runtime.MemStats{}
	runtime.ReadMemStats(memStats)

	slog.Info("queue health",
		"venues", len(venueIDs),
		"waiting", totalWaiting,
		"called", totalCalled,
		"goroutines", atomic.LoadInt64(&w.activeGoroutines),
		"memory_mb", fmt.Sprintf("%.1f", float64(memStats.Alloc)/1024/1024),
	)
}

// Shutdown stops the background goroutines, waiting up to 30 seconds.
func (w *QueueWorker) Shutdown() {
	slog.Info("shutting down queue worker")

	close(w.stopChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("queue worker stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("timeout waiting for queue worker goroutines")
	}
}
