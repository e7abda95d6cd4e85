// Package quota gates and accounts for per-user token consumption.
//
// A user's usage lives in the users collection as flat fields
// (tokenUsage.used, tokenUsage.limit, ...). Admission is a single-document
// transaction; reconciliation is an atomic field increment, so concurrent
// turns of the same user never lose updates to tokenUsage.used.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/private-symposium-go/internal/config"
	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// User document fields
const (
	fieldPlan        = "plan"
	fieldUsed        = "tokenUsage.used"
	fieldLimit       = "tokenUsage.limit"
	fieldResetDate   = "tokenUsage.resetDate"
	fieldLastReset   = "tokenUsage.lastReset"
	fieldCreatedAt   = "createdAt"
	fieldLastLoginAt = "lastLoginAt"
	fieldUpdatedAt   = "updatedAt"
)

// Admission is the outcome of an admission check
type Admission struct {
	Allowed bool
	// Reset is set when the check started a new period
	Reset     bool
	Remaining int64
	Usage     models.TokenUsage
}

// Reconciliation is the outcome of correcting a reservation
type Reconciliation struct {
	Delta   int64
	Applied bool
	// Used is the stored usage after the correction; set only when applied
	Used int64
}

// Ledger owns every mutation of a user's token usage
type Ledger struct {
	store    storage.Store
	cfg      config.QuotaConfig
	location *time.Location
	now      func() time.Time
	logger   *logrus.Logger
}

// NewLedger creates a ledger. An unknown reset location is logged and
// replaced by UTC.
func NewLedger(store storage.Store, cfg *config.QuotaConfig, logger *logrus.Logger) *Ledger {
	loc, err := cfg.Location()
	if err != nil {
		logger.WithError(err).Warn("Falling back to UTC for quota resets")
	}
	return &Ledger{
		store:    store,
		cfg:      *cfg,
		location: loc,
		now:      time.Now,
		logger:   logger,
	}
}

// Location is the time zone calendar months are evaluated in
func (l *Ledger) Location() *time.Location {
	return l.location
}

// NextResetDate returns midnight on the first day of the month after now,
// in loc
func NextResetDate(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
}

func (l *Ledger) defaultLimit() int64 {
	if limit := l.cfg.PlanLimits[string(models.DefaultPlan)]; limit > 0 {
		return limit
	}
	if l.cfg.DefaultLimit > 0 {
		return l.cfg.DefaultLimit
	}
	return models.DefaultTokenLimit
}

// PlanLimit returns the token limit configured for plan
func (l *Ledger) PlanLimit(plan models.Plan) int64 {
	if limit := l.cfg.PlanLimits[string(plan)]; limit > 0 {
		return limit
	}
	return l.defaultLimit()
}

func (l *Ledger) newUser(now time.Time) storage.Document {
	return storage.Document{
		fieldPlan:        string(models.DefaultPlan),
		fieldUsed:        "0",
		fieldLimit:       storage.FormatInt(l.defaultLimit()),
		fieldResetDate:   storage.FormatTime(NextResetDate(now, l.location)),
		fieldCreatedAt:   storage.FormatTime(now),
		fieldLastLoginAt: storage.FormatTime(now),
	}
}

// resetPatch is the single reset policy: usage restarts at charge and the
// next reset moves to the following calendar month
func (l *Ledger) resetPatch(now time.Time, charge int64) storage.Document {
	return storage.Document{
		fieldUsed:      storage.FormatInt(charge),
		fieldResetDate: storage.FormatTime(NextResetDate(now, l.location)),
		fieldLastReset: storage.FormatTime(now),
	}
}

func resetDue(usage models.TokenUsage, now time.Time) bool {
	return usage.ResetDate != nil && !now.Before(*usage.ResetDate)
}

func (l *Ledger) usageFrom(doc storage.Document) (models.TokenUsage, error) {
	var usage models.TokenUsage
	var err error

	if usage.Used, err = doc.Int64(fieldUsed); err != nil {
		return usage, fmt.Errorf("invalid %s: %w", fieldUsed, err)
	}
	if usage.Limit, err = doc.Int64(fieldLimit); err != nil {
		return usage, fmt.Errorf("invalid %s: %w", fieldLimit, err)
	}
	if usage.Limit <= 0 {
		usage.Limit = l.defaultLimit()
	}
	if usage.ResetDate, err = doc.Time(fieldResetDate); err != nil {
		return usage, fmt.Errorf("invalid %s: %w", fieldResetDate, err)
	}
	if usage.LastReset, err = doc.Time(fieldLastReset); err != nil {
		return usage, fmt.Errorf("invalid %s: %w", fieldLastReset, err)
	}
	return usage, nil
}

func merged(current, patch storage.Document) storage.Document {
	doc := current.Clone()
	if doc == nil {
		doc = storage.Document{}
	}
	for k, v := range patch {
		doc[k] = v
	}
	return doc
}

// Admit checks whether estimated tokens fit the user's remaining quota and
// reserves them when they do. Unknown users are created with defaults first,
// and a passed reset date starts a new period charged with this request.
// A denial leaves the stored usage untouched.
func (l *Ledger) Admit(ctx context.Context, userID string, estimated int64) (*Admission, error) {
	if estimated < 0 {
		return nil, models.Validationf("estimated tokens must not be negative")
	}

	now := l.now()
	var result Admission

	err := l.store.Transact(ctx, storage.CollectionUsers, userID, func(current storage.Document) (storage.Document, error) {
		result = Admission{}
		patch := storage.Document{}
		if current == nil {
			patch = l.newUser(now)
		}

		usage, err := l.usageFrom(merged(current, patch))
		if err != nil {
			return nil, err
		}

		switch {
		case resetDue(usage, now):
			reset := l.resetPatch(now, estimated)
			for k, v := range reset {
				patch[k] = v
			}
			if usage, err = l.usageFrom(merged(current, patch)); err != nil {
				return nil, err
			}
			result.Allowed = true
			result.Reset = true
		case usage.Used+estimated > usage.Limit:
			result.Allowed = false
		default:
			usage.Used += estimated
			patch[fieldUsed] = storage.FormatInt(usage.Used)
			result.Allowed = true
		}

		result.Usage = usage
		result.Remaining = usage.Remaining()
		return patch, nil
	})
	if err != nil {
		return nil, err
	}

	entry := l.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"estimated": estimated,
		"used":      result.Usage.Used,
		"limit":     result.Usage.Limit,
	})
	switch {
	case !result.Allowed:
		entry.Info("Quota admission denied")
	case result.Reset:
		entry.Info("Quota period reset on admission")
	default:
		entry.Debug("Quota reserved")
	}

	return &result, nil
}

// Reconcile corrects a reservation once the actual cost is known. Deltas
// within the configured threshold are ignored.
func (l *Ledger) Reconcile(ctx context.Context, userID string, estimated, actual int64) (*Reconciliation, error) {
	delta := actual - estimated
	result := &Reconciliation{Delta: delta}

	abs := delta
	if abs < 0 {
		abs = -abs
	}
	if abs <= l.cfg.ReconcileThreshold {
		return result, nil
	}

	used, err := l.store.Increment(ctx, storage.CollectionUsers, userID, fieldUsed, delta)
	if err != nil {
		return nil, err
	}
	result.Applied = true
	result.Used = used

	l.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"estimated": estimated,
		"actual":    actual,
		"delta":     delta,
		"used":      used,
	}).Debug("Quota reconciled")

	return result, nil
}

// MaybeReset starts a new period for the user when the reset date has
// passed. It reports whether a reset happened.
func (l *Ledger) MaybeReset(ctx context.Context, userID string, now time.Time) (bool, error) {
	var reset bool
	err := l.store.Transact(ctx, storage.CollectionUsers, userID, func(current storage.Document) (storage.Document, error) {
		reset = false
		if current == nil {
			return nil, nil
		}
		usage, err := l.usageFrom(current)
		if err != nil {
			return nil, err
		}
		if !resetDue(usage, now) {
			return nil, nil
		}
		reset = true
		return l.resetPatch(now, 0), nil
	})
	if err != nil {
		return false, err
	}
	return reset, nil
}

// ResetIfDue is MaybeReset at the ledger's current time
func (l *Ledger) ResetIfDue(ctx context.Context, userID string) (bool, error) {
	return l.MaybeReset(ctx, userID, l.now())
}

// ResetAllDueAccounts zeroes usage for every free or planless user,
// regardless of their reset date, in batches of the configured size. The
// reset date moves past now, so a later lazy reset in the same month does
// not fire again. Re-running after a partial failure is safe.
func (l *Ledger) ResetAllDueAccounts(ctx context.Context, now time.Time) (int, error) {
	ids, err := l.store.Query(ctx, storage.CollectionUsers, fieldPlan, []string{string(models.PlanFree), ""})
	if err != nil {
		return 0, err
	}

	batchSize := l.cfg.ResetBatchSize
	if batchSize <= 0 {
		batchSize = len(ids)
	}

	patch := l.resetPatch(now, 0)
	count := 0
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := l.store.BatchUpdate(ctx, storage.CollectionUsers, ids[start:end], patch); err != nil {
			l.logger.WithError(err).WithField("reset", count).Error("Quota reset batch failed")
			return count, err
		}
		count += end - start
	}

	l.logger.WithFields(logrus.Fields{
		"count":      count,
		"next_reset": patch[fieldResetDate],
	}).Info("Monthly quota reset completed")

	return count, nil
}

// Usage returns the stored usage of a user
func (l *Ledger) Usage(ctx context.Context, userID string) (models.TokenUsage, error) {
	doc, err := l.store.Read(ctx, storage.CollectionUsers, userID)
	if err != nil {
		return models.TokenUsage{}, err
	}
	return l.usageFrom(doc)
}
