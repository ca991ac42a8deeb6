package pairs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tradekit/stream-gateway/internal/config"
)

// Stats is a snapshot of directory state.
type Stats struct {
	PairCount  int
	LastSyncAt time.Time
	SyncErrors uint64
}

// Directory holds the active trading-pair set and keeps it reconciled
// against the operator database.
type Directory struct {
	cfg    config.PairsConfig
	source Source
	logger *slog.Logger

	mu         sync.RWMutex
	known      map[string]struct{}
	ordered    []string
	lastSyncAt time.Time
	syncErrors uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDirectory creates a trading-pair directory.
func NewDirectory(cfg config.PairsConfig, source Source, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		cfg:    cfg,
		source: source,
		logger: logger,
		known:  make(map[string]struct{}),
	}
}

// Start loads the pair set (blocking) and begins background reconciliation.
func (d *Directory) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	symbols, err := d.source.FetchActivePairs(d.ctx)
	if err != nil {
		d.cancel()
		return err
	}
	d.replace(symbols)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.reconcileLoop(d.ctx)
	}()

	d.logger.Info("pair directory started", "pairs", len(symbols))
	return nil
}

// Stop gracefully shuts down.
func (d *Directory) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("pair directory stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsKnownTradingPair reports whether symbol names an active trading pair.
func (d *Directory) IsKnownTradingPair(symbol string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.known[symbol]
	return ok
}

// ListTradingPairs returns all active pairs in sorted order.
func (d *Directory) ListTradingPairs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// Stats returns a snapshot of directory state.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{
		PairCount:  len(d.known),
		LastSyncAt: d.lastSyncAt,
		SyncErrors: d.syncErrors,
	}
}

func (d *Directory) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reconcile(ctx)
		}
	}
}

func (d *Directory) reconcile(ctx context.Context) {
	symbols, err := d.source.FetchActivePairs(ctx)
	if err != nil {
		d.mu.Lock()
		d.syncErrors++
		d.mu.Unlock()
		d.logger.Error("pair reconciliation failed", "err", err)
		return
	}

	added, removed := d.replace(symbols)
	if added > 0 || removed > 0 {
		d.logger.Info("pair directory changed",
			"added", added,
			"removed", removed,
			"pairs", len(symbols),
		)
	} else {
		d.logger.Debug("pair reconciliation complete", "pairs", len(symbols))
	}
}

// replace swaps the pair set wholesale and reports how many symbols
// were added and removed relative to the previous set.
func (d *Directory) replace(symbols []string) (added, removed int) {
	next := make(map[string]struct{}, len(symbols))
	ordered := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, dup := next[s]; dup {
			continue
		}
		next[s] = struct{}{}
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	d.mu.Lock()
	defer d.mu.Unlock()

	for s := range next {
		if _, ok := d.known[s]; !ok {
			added++
		}
	}
	for s := range d.known {
		if _, ok := next[s]; !ok {
			removed++
		}
	}

	d.known = next
	d.ordered = ordered
	d.lastSyncAt = time.Now()
	return added, removed
}
