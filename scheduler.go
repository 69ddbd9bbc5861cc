package pricer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze"
	"github.com/panjf2000/ants/v2"
)

// ChannelSender publishes a post to one broadcast channel.
type ChannelSender interface {
	SendToChannel(channelID int64, text string) error
}

// latestClearer is implemented by sources that buffer their last good fetch.
type latestClearer interface {
	ClearLatest()
}

// BroadcastScheduler owns the single repeating broadcast job. It builds a
// combined price post from the active crypto source and the currency source
// and publishes it to the configured channels. Admin commands start and stop
// the job and swap the crypto provider at runtime.
type BroadcastScheduler struct {
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	interval time.Duration

	crypto   PriceSource
	currency PriceSource

	sender   ChannelSender
	channels []int64
	pool     *ants.Pool
	log      logze.Logger
	cfg      Config
}

func NewBroadcastScheduler(crypto, currency PriceSource, sender ChannelSender, pool *ants.Pool, cfg Config, log logze.Logger) *BroadcastScheduler {
	return &BroadcastScheduler{
		crypto:   crypto,
		currency: currency,
		sender:   sender,
		channels: cfg.ChannelIDs,
		pool:     pool,
		log:      log,
		cfg:      cfg,
		interval: cfg.DefaultInterval,
	}
}

// IsRunning reports whether the repeating job is active.
func (s *BroadcastScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the currently configured firing interval.
func (s *BroadcastScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// ParseInterval parses an interval in minutes: integer first, then
// fractional, else the configured default.
func (s *BroadcastScheduler) ParseInterval(input string) time.Duration {
	if n, err := strconv.Atoi(input); err == nil && n > 0 {
		return time.Duration(n) * time.Minute
	}
	if f, err := strconv.ParseFloat(input, 64); err == nil && f > 0 {
		return time.Duration(f * float64(time.Minute))
	}
	return s.cfg.DefaultInterval
}

// Start launches the repeating job. A second start while running is detected
// by the running flag alone, never by querying the timer, so two logical
// starts under race cannot create duplicate jobs.
func (s *BroadcastScheduler) Start(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.interval = lang.Check(interval, s.cfg.DefaultInterval)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	tick := s.interval
	s.mu.Unlock()

	lang.Go(AdaptLogger(s.log), func() {
		// First post goes out right away, the ticker covers the rest.
		s.fire()

		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.fire()
			}
		}
	})

	s.log.Info("broadcast started", "interval", tick)
	return nil
}

// Stop cancels future firings and clears the latest-price buffers of the
// active sources. An in-flight firing runs to completion. Stopping an idle
// scheduler is a no-op.
func (s *BroadcastScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancel()

	if c, ok := s.crypto.(latestClearer); ok {
		c.ClearLatest()
	}
	if c, ok := s.currency.(latestClearer); ok {
		c.ClearLatest()
	}

	s.log.Info("broadcast stopped")
}

// CryptoSource returns the active crypto provider.
func (s *BroadcastScheduler) CryptoSource() PriceSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crypto
}

// CurrencySource returns the currency/gold provider.
func (s *BroadcastScheduler) CurrencySource() PriceSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currency
}

// SetMessageHeader changes the text prepended to every broadcast post.
func (s *BroadcastScheduler) SetMessageHeader(header string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MessageHeader = header
}

// SetMessageFootnote changes the text appended to every broadcast post.
func (s *BroadcastScheduler) SetMessageFootnote(footnote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MessageFootnote = footnote
}

// SwitchSource replaces the active crypto provider. The new provider is
// constructed fully before the reference is swapped, so an in-flight fetch
// sees either the old or the new source, never a partial one. A one-time
// notification post announces the change.
func (s *BroadcastScheduler) SwitchSource(name string) error {
	src, err := NewCryptoSource(name, s.cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.crypto = src
	s.mu.Unlock()

	s.log.Info("crypto source switched", "source", src.Name())
	s.broadcast("📢 Price source switched to " + src.Name() + ".")
	return nil
}

// fire builds one combined post and publishes it. Each section is fetched
// and degraded independently: a failed fetch falls back to the last good
// snapshot of that section and never blocks the other one.
func (s *BroadcastScheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.FetchTimeout)
	defer cancel()

	crypto := s.CryptoSource()
	currency := s.CurrencySource()

	cryptoTable, err := fetchWithFallback(ctx, crypto)
	if err != nil {
		mtr.fetchFailures.WithLabelValues(crypto.Name()).Inc()
		s.log.Warn("crypto section degraded", "source", crypto.Name(), "error", err.Error())
	}
	currencyTable, err := fetchWithFallback(ctx, currency)
	if err != nil {
		mtr.fetchFailures.WithLabelValues(currency.Name()).Inc()
		s.log.Warn("currency section degraded", "source", currency.Name(), "error", err.Error())
	}

	if len(cryptoTable) == 0 && len(currencyTable) == 0 {
		s.log.Error(ErrNoLatestData, "skip broadcast firing: both sections empty")
		return
	}

	s.mu.Lock()
	header, footnote := s.cfg.MessageHeader, s.cfg.MessageFootnote
	s.mu.Unlock()

	post := renderPost(cryptoTable, s.cfg.CryptoSymbols, currencyTable, s.cfg.CurrencySymbols,
		header, footnote, time.Now().UTC())

	s.broadcast(post)
}

// broadcast fans the post out to every configured channel. One failed
// recipient never stops delivery to the rest.
func (s *BroadcastScheduler) broadcast(text string) {
	var (
		errList = errm.NewSafeList()
		wg      sync.WaitGroup
	)

	for _, channelID := range s.channels {
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			if err := s.sender.SendToChannel(channelID, text); err != nil {
				mtr.broadcastErrors.Inc()
				errList.Wrap(err, "send to channel", "channel_id", channelID)
				return
			}
			mtr.broadcastsTotal.Inc()
		})
		if err != nil {
			wg.Done()
			errList.Wrap(err, "submit send task", "channel_id", channelID)
		}
	}

	wg.Wait()

	if errList.NotEmpty() {
		s.log.Warn("broadcast delivered with errors", "error", errList.Err().Error())
	}
}
