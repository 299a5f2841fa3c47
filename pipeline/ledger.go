package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
)

type OperationKind string

const (
	OpImageGeneration OperationKind = "image-generation"
	OpVideoGeneration OperationKind = "video-generation"
)

// Rates are credits charged per composed image and per second of video.
type Rates struct {
	PerImage  int64
	PerSecond int64
}

func (r Rates) ImageCost(sceneCount int) int64 {
	return int64(sceneCount) * r.PerImage
}

func (r Rates) VideoCost(totalSeconds int) int64 {
	return int64(totalSeconds) * r.PerSecond
}

type Estimate struct {
	ImageCost int64 `json:"imageCost"`
	VideoCost int64 `json:"videoCost"`
	Total     int64 `json:"total"`
}

// Estimate prices a full run over scenes.
func (r Rates) Estimate(scenes []*models.Scene) Estimate {
	img := r.ImageCost(len(scenes))
	vid := r.VideoCost(models.TotalDuration(scenes))
	return Estimate{ImageCost: img, VideoCost: vid, Total: img + vid}
}

func (r Rates) CanAfford(balance, cost int64) bool {
	return balance >= cost
}

type DebitResult struct {
	OK         bool
	NewBalance int64
}

// LedgerEntry records one successful debit. Entries are never reversed.
type LedgerEntry struct {
	RunID         string
	OperationKind OperationKind
	Amount        int64
}

// Ledger gates costed stages behind an atomic debit.
type Ledger struct {
	balance BalanceStore
	rates   Rates
	log     *slog.Logger

	mu      sync.Mutex
	entries []LedgerEntry
}

func NewLedger(balance BalanceStore, rates Rates, log *slog.Logger) *Ledger {
	return &Ledger{
		balance: balance,
		rates:   rates,
		log:     logging.WithComponent(logging.OrDefault(log), "ledger"),
	}
}

func (l *Ledger) Rates() Rates {
	return l.rates
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	b, err := l.balance.GetBalance(ctx, userID)
	if err != nil {
		return 0, PersistenceFailed("read balance", err)
	}
	return b, nil
}

// Require fails with insufficient-balance unless the user can cover cost.
// It debits nothing.
func (l *Ledger) Require(ctx context.Context, userID string, cost int64) error {
	b, err := l.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if !l.rates.CanAfford(b, cost) {
		return Precondition(ReasonInsufficientBalance, "balance %d is below required %d", b, cost)
	}
	return nil
}

// TryDebit takes amount from the user's balance. A refusal comes back as a
// precondition failure alongside a result with OK=false.
func (l *Ledger) TryDebit(ctx context.Context, runID, userID string, kind OperationKind, amount int64) (DebitResult, error) {
	newBalance, ok, err := l.balance.Debit(ctx, userID, runID, amount, string(kind))
	if err != nil {
		return DebitResult{}, PersistenceFailed("debit", err)
	}
	if !ok {
		l.log.Warn("debit refused",
			slog.String("run_id", runID),
			slog.String("operation", string(kind)),
			slog.Int64("amount", amount),
			slog.Int64("balance", newBalance),
		)
		return DebitResult{NewBalance: newBalance}, Precondition(ReasonInsufficientBalance,
			"%s needs %d credits, balance is %d", kind, amount, newBalance)
	}

	l.mu.Lock()
	l.entries = append(l.entries, LedgerEntry{RunID: runID, OperationKind: kind, Amount: amount})
	l.mu.Unlock()

	l.log.Info("debit applied",
		slog.String("run_id", runID),
		slog.String("operation", string(kind)),
		slog.Int64("amount", amount),
		slog.Int64("balance", newBalance),
	)
	return DebitResult{OK: true, NewBalance: newBalance}, nil
}

// Entries returns a copy of the debits applied through this ledger.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
