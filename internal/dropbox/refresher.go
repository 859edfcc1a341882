package dropbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/internal/sync"
)

// Refresher keeps the access token fresh in the background until stopped.
type Refresher struct {
	client   *Client
	interval time.Duration
	started  *sync.Event
	stop     *sync.Event
	done     *sync.Event
}

func NewRefresher(client *Client, interval time.Duration) *Refresher {
	return &Refresher{
		client:   client,
		interval: interval,
		started:  sync.NewEvent(),
		stop:     sync.NewEvent(),
		done:     sync.NewEvent(),
	}
}

// Start refreshes the token immediately and then on every interval, until Stop() is called or ctx is cancelled. It
// does nothing if the client has no refresh token.
func (r *Refresher) Start(ctx context.Context) {
	if !r.started.Set() {
		return
	}
	if !r.client.canRefresh() || r.interval <= 0 {
		r.done.Set()
		return
	}
	go func() {
		defer r.done.Set()
		logger := post_archiver.Logger(ctx)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			if err := r.client.Refresh(ctx); err != nil {
				logger.Warn("Failed to refresh storage token", zap.Error(err))
			} else {
				logger.Info("Refreshed storage token")
			}
			select {
			case <-ticker.C:
			case <-r.stop.Wait():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the background refresh and waits for it to finish.
func (r *Refresher) Stop() {
	r.stop.Set()
	if r.started.IsSet() {
		<-r.done.Wait()
	}
}
