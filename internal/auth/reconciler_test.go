package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/desertthunder/jamgate/internal/models"
	"github.com/desertthunder/jamgate/internal/repositories"
	"github.com/desertthunder/jamgate/internal/shared"
)

func setupRepo(t *testing.T) *repositories.UserRepository {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return repositories.NewUserRepository(db)
}

func TestReconcile(t *testing.T) {
	t.Run("creates exactly one record for a never-seen external ID", func(t *testing.T) {
		repo := setupRepo(t)
		reconciler := NewReconciler(repo, nil)

		user, err := reconciler.Reconcile("u1", "First Name")
		if err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}

		if user.ExternalID() != "u1" {
			t.Errorf("expected external ID u1, got %s", user.ExternalID())
		}
		if user.DisplayName() != "First Name" {
			t.Errorf("expected display name First Name, got %s", user.DisplayName())
		}

		users, err := repo.List(nil)
		if err != nil {
			t.Fatalf("failed to list users: %v", err)
		}
		if len(users) != 1 {
			t.Errorf("expected exactly one record, got %d", len(users))
		}
	})

	t.Run("repeated logins do not duplicate", func(t *testing.T) {
		repo := setupRepo(t)
		reconciler := NewReconciler(repo, nil)

		first, err := reconciler.Reconcile("u1", "Name")
		if err != nil {
			t.Fatalf("first reconcile failed: %v", err)
		}

		second, err := reconciler.Reconcile("u1", "Name")
		if err != nil {
			t.Fatalf("second reconcile failed: %v", err)
		}

		if first.ExternalID() != second.ExternalID() {
			t.Errorf("expected identical external IDs, got %s and %s", first.ExternalID(), second.ExternalID())
		}
		if first.ID() != second.ID() {
			t.Errorf("expected identical record IDs, got %s and %s", first.ID(), second.ID())
		}

		users, err := repo.List(map[string]any{"external_id": "u1"})
		if err != nil {
			t.Fatalf("failed to list users: %v", err)
		}
		if len(users) != 1 {
			t.Errorf("expected exactly one record after both calls, got %d", len(users))
		}
	})

	t.Run("stored display name wins over a changed profile name", func(t *testing.T) {
		repo := setupRepo(t)
		reconciler := NewReconciler(repo, nil)

		if _, err := reconciler.Reconcile("u1", "Original Name"); err != nil {
			t.Fatalf("first reconcile failed: %v", err)
		}

		user, err := reconciler.Reconcile("u1", "Changed Name")
		if err != nil {
			t.Fatalf("second reconcile failed: %v", err)
		}

		if user.DisplayName() != "Original Name" {
			t.Errorf("expected stored name Original Name, got %s", user.DisplayName())
		}
	})

	t.Run("creates a record for a profile without a display name", func(t *testing.T) {
		repo := setupRepo(t)
		reconciler := NewReconciler(repo, nil)

		user, err := reconciler.Reconcile("u-nodisplay", "")
		if err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}

		if user.ExternalID() != "u-nodisplay" {
			t.Errorf("expected external ID u-nodisplay, got %s", user.ExternalID())
		}
		if user.DisplayName() != "" {
			t.Errorf("expected empty display name, got %s", user.DisplayName())
		}

		stored, err := repo.GetByExternalID("u-nodisplay")
		if err != nil {
			t.Fatalf("expected the record to be persisted: %v", err)
		}
		if stored.DisplayName() != "" {
			t.Errorf("expected persisted empty display name, got %s", stored.DisplayName())
		}
	})

	t.Run("rejects empty external ID", func(t *testing.T) {
		reconciler := NewReconciler(setupRepo(t), nil)

		if _, err := reconciler.Reconcile("", "Name"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("lost creation race falls back to the winner's record", func(t *testing.T) {
		repo := setupRepo(t)
		reconciler := NewReconciler(&racingStore{inner: repo}, nil)

		user, err := reconciler.Reconcile("u1", "Loser Name")
		if err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}

		if user.DisplayName() != "Winner Name" {
			t.Errorf("expected the winner's record, got display name %s", user.DisplayName())
		}
	})

	t.Run("store failure is surfaced", func(t *testing.T) {
		reconciler := NewReconciler(&unavailableStore{}, nil)

		_, err := reconciler.Reconcile("u1", "Name")
		if !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})
}

// racingStore simulates losing a concurrent first-login race: the first
// lookup misses, then a competing insert lands before ours.
type racingStore struct {
	inner    *repositories.UserRepository
	attempts int
}

func (s *racingStore) GetByExternalID(externalID string) (*models.User, error) {
	s.attempts++
	if s.attempts == 1 {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, externalID)
	}
	return s.inner.GetByExternalID(externalID)
}

func (s *racingStore) Create(user *models.User) error {
	winner := models.NewUser(0, user.ExternalID(), "Winner Name")
	if err := s.inner.Create(winner); err != nil {
		return err
	}
	return s.inner.Create(user)
}

// unavailableStore fails every operation.
type unavailableStore struct{}

func (s *unavailableStore) GetByExternalID(string) (*models.User, error) {
	return nil, fmt.Errorf("%w: connection refused", shared.ErrStoreUnavailable)
}

func (s *unavailableStore) Create(*models.User) error {
	return fmt.Errorf("%w: connection refused", shared.ErrStoreUnavailable)
}
