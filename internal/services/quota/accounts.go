package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

func (l *Ledger) userFrom(userID string, doc storage.Document) (*models.User, error) {
	usage, err := l.usageFrom(doc)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:         userID,
		Plan:       models.Plan(doc[fieldPlan]),
		TokenUsage: usage,
	}
	if user.Plan == "" {
		user.Plan = models.DefaultPlan
	}

	for field, dst := range map[string]*time.Time{
		fieldCreatedAt:   &user.CreatedAt,
		fieldLastLoginAt: &user.LastLoginAt,
	} {
		t, err := doc.Time(field)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", field, err)
		}
		if t != nil {
			*dst = *t
		}
	}
	if user.UpdatedAt, err = doc.Time(fieldUpdatedAt); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldUpdatedAt, err)
	}

	return user, nil
}

// Login returns the user record, creating it with defaults on first
// reference. Existing users get lastLoginAt bumped. The flag reports whether
// the user was created.
func (l *Ledger) Login(ctx context.Context, userID string) (*models.User, bool, error) {
	now := l.now()
	var (
		doc     storage.Document
		created bool
	)

	err := l.store.Transact(ctx, storage.CollectionUsers, userID, func(current storage.Document) (storage.Document, error) {
		var patch storage.Document
		if current == nil {
			created = true
			patch = l.newUser(now)
		} else {
			created = false
			patch = storage.Document{fieldLastLoginAt: storage.FormatTime(now)}
		}
		doc = merged(current, patch)
		return patch, nil
	})
	if err != nil {
		return nil, false, err
	}

	user, err := l.userFrom(userID, doc)
	if err != nil {
		return nil, false, models.NewError(models.KindStore, "decode user "+userID, err)
	}

	if created {
		l.logger.WithField("user_id", userID).Info("User created")
	}
	return user, created, nil
}

// TouchLogin records activity without reading the user
func (l *Ledger) TouchLogin(ctx context.Context, userID string) error {
	patch := storage.Document{fieldLastLoginAt: storage.FormatTime(l.now())}
	return l.store.Write(ctx, storage.CollectionUsers, userID, patch, true)
}

// SetPlan moves the user to plan and sets the limit from the plan table.
// Usage in the current period is kept.
func (l *Ledger) SetPlan(ctx context.Context, userID string, plan models.Plan) (*models.User, error) {
	if !plan.Valid() {
		return nil, models.Validationf("unknown plan %q", plan)
	}

	now := l.now()
	limit := l.PlanLimit(plan)
	var doc storage.Document

	err := l.store.Transact(ctx, storage.CollectionUsers, userID, func(current storage.Document) (storage.Document, error) {
		patch := storage.Document{}
		if current == nil {
			patch = l.newUser(now)
		}
		patch[fieldPlan] = string(plan)
		patch[fieldLimit] = storage.FormatInt(limit)
		patch[fieldUpdatedAt] = storage.FormatTime(now)
		doc = merged(current, patch)
		return patch, nil
	})
	if err != nil {
		return nil, err
	}

	user, err := l.userFrom(userID, doc)
	if err != nil {
		return nil, models.NewError(models.KindStore, "decode user "+userID, err)
	}

	l.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"plan":    plan,
		"limit":   limit,
	}).Info("User plan updated")

	return user, nil
}
