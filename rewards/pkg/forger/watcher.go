package forger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/truebw/rewards/pkg/metrics"
	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

// BlockSource lists the blocks forged by a validator above a height, in ascending order.
type BlockSource interface {
	BlocksForgedBy(ctx context.Context, validatorPK string, sinceHeight uint64) ([]tbw.Block, error)
}

// Progress reports the height after which processing resumes: the highest block that was both
// applied to the ledger and recorded.
type Progress interface {
	ResumeHeight(ctx context.Context) (uint64, bool, error)
}

// BlockProcessor processes one forged block.
type BlockProcessor interface {
	Process(ctx context.Context, block tbw.Block) (*Result, error)
}

type WatcherConfig struct {
	Logger             *slog.Logger
	Clock              clockwork.Clock
	Source             BlockSource
	Progress           Progress
	Processor          BlockProcessor
	ValidatorPublicKey string
	PollInterval       time.Duration

	// StartHeight is used when nothing has been applied yet; processing starts above it.
	StartHeight uint64

	// OnError is called for every block that fails to process. Optional.
	OnError func(err *ProcessError)
}

func (cfg *WatcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("block source is required")
	}
	if cfg.Progress == nil {
		return errors.New("progress store is required")
	}
	if cfg.Processor == nil {
		return errors.New("processor is required")
	}
	if cfg.ValidatorPublicKey == "" {
		return errors.New("validator public key is required")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Watcher polls the host chain for blocks forged by the validator and processes them strictly
// in height order, one at a time.
type Watcher struct {
	log    *slog.Logger
	cfg    WatcherConfig
	pollMu sync.Mutex

	lastHeight uint64
	resumed    bool
	readyOnce  sync.Once
	readyCh    chan struct{}
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Watcher{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
	}, nil
}

// Ready reports whether the watcher has completed one poll.
func (w *Watcher) Ready() bool {
	select {
	case <-w.readyCh:
		return true
	default:
		return false
	}
}

func (w *Watcher) WaitReady(ctx context.Context) error {
	select {
	case <-w.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for forger watcher: %w", ctx.Err())
	}
}

// LastHeight returns the highest height processed, or resumed from, so far.
func (w *Watcher) LastHeight() uint64 {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	return w.lastHeight
}

func (w *Watcher) Start(ctx context.Context) {
	go func() {
		w.log.Info("forger: starting watcher", "interval", w.cfg.PollInterval, "validator", w.cfg.ValidatorPublicKey)

		w.safePoll(ctx)

		ticker := w.cfg.Clock.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				w.safePoll(ctx)
			}
		}
	}()
}

func (w *Watcher) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("forger: poll panicked", "panic", r)
			metrics.WatcherPollTotal.WithLabelValues("panic").Inc()
		}
	}()

	if err := w.Poll(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.log.Error("forger: poll failed", "error", err)
	}
}

// Poll processes every block forged since the last processed height. It stops at the first
// block that fails so that later heights are never applied before it; the failed block is
// retried on the next poll.
func (w *Watcher) Poll(ctx context.Context) error {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	if !w.resumed {
		height, ok, err := w.cfg.Progress.ResumeHeight(ctx)
		if err != nil {
			metrics.WatcherPollTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to get resume height: %w", err)
		}
		w.lastHeight = w.cfg.StartHeight
		if ok && height > w.lastHeight {
			w.lastHeight = height
		}
		w.resumed = true
		w.log.Info("forger: resuming", "after_height", w.lastHeight)
	}

	blocks, err := w.cfg.Source.BlocksForgedBy(ctx, w.cfg.ValidatorPublicKey, w.lastHeight)
	if err != nil {
		metrics.WatcherPollTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to list forged blocks: %w", err)
	}

	for _, block := range blocks {
		if block.Height <= w.lastHeight {
			continue
		}
		if _, err := w.cfg.Processor.Process(ctx, block); err != nil {
			metrics.WatcherPollTotal.WithLabelValues("error").Inc()
			var pe *ProcessError
			if !errors.As(err, &pe) {
				pe = &ProcessError{Height: block.Height, Err: err}
			}
			if w.cfg.OnError != nil && !errors.Is(err, context.Canceled) {
				w.cfg.OnError(pe)
			}
			return pe
		}
		w.lastHeight = block.Height
	}

	metrics.WatcherPollTotal.WithLabelValues("success").Inc()
	w.readyOnce.Do(func() {
		close(w.readyCh)
		w.log.Info("forger: watcher ready", "last_height", w.lastHeight)
	})
	return nil
}
