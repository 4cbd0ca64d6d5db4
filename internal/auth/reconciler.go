// Package auth contains the identity reconciliation and credential
// bookkeeping at the heart of the gateway.
package auth

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jamgate/internal/models"
	"github.com/desertthunder/jamgate/internal/shared"
)

// UserStore is the subset of the user repository the reconciler needs.
type UserStore interface {
	GetByExternalID(externalID string) (*models.User, error)
	Create(user *models.User) error
}

// Reconciler maps a verified external profile to exactly one local user
// record, creating it on first login.
type Reconciler struct {
	store  UserStore
	logger *log.Logger
}

// NewReconciler creates a Reconciler backed by the given store.
func NewReconciler(store UserStore, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Reconciler{store: store, logger: logger}
}

// Reconcile finds or creates the local user for the given external identity.
//
// A known external ID returns the stored record unchanged: the stored display
// name wins even when the provider's profile name has changed since, so
// repeated logins are pure reads. When two first-time logins race, the store's
// uniqueness constraint makes one insert fail and that loser re-reads the
// winner's record.
func (r *Reconciler) Reconcile(externalID, displayName string) (*models.User, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: external ID is required", shared.ErrInvalidInput)
	}

	user, err := r.store.GetByExternalID(externalID)
	if err == nil {
		r.logger.Info("user found", "external_id", externalID)
		return user, nil
	}
	if !errors.Is(err, shared.ErrUserNotFound) {
		return nil, fmt.Errorf("reconciliation failed: %w", err)
	}

	user = models.NewUser(0, externalID, displayName)
	if err := r.store.Create(user); err != nil {
		if errors.Is(err, shared.ErrDuplicateUser) {
			// Lost a concurrent first-login race; the winner's row is authoritative.
			return r.store.GetByExternalID(externalID)
		}
		return nil, fmt.Errorf("reconciliation failed: %w", err)
	}

	r.logger.Info("user created", "external_id", externalID)
	return user, nil
}
