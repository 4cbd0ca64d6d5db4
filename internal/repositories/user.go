package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/jamgate/internal/models"
	"github.com/desertthunder/jamgate/internal/shared"
	"github.com/mattn/go-sqlite3"
)

// UserRepository implements [models.Repository] for [models.User] persistence.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database with generated ID and sequence.
//
// A second insert for the same external ID fails with [shared.ErrDuplicateUser];
// the users table's unique index makes concurrent first logins lose cleanly
// instead of racing to duplicate rows.
func (r *UserRepository) Create(user *models.User) error {
	sequence, err := NextSequence(r.db, "users")
	if err != nil {
		return fmt.Errorf("%w: failed to generate sequence: %v", shared.ErrStoreUnavailable, err)
	}

	id := shared.GenerateID()
	user.SetID(id)
	user.SetSequence(sequence)

	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO users (id, sequence, external_id, display_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query, id, sequence, user.ExternalID(), user.DisplayName(), user.CreatedAt(), user.UpdatedAt())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: external id %s", shared.ErrDuplicateUser, user.ExternalID())
		}
		return fmt.Errorf("%w: failed to insert user: %v", shared.ErrStoreUnavailable, err)
	}

	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(id string) (*models.User, error) {
	query := `
		SELECT id, sequence, external_id, display_name, created_at, updated_at
		FROM users
		WHERE id = ?
	`
	return r.scanUser(r.db.QueryRow(query, id), id)
}

// GetByExternalID retrieves a user by the provider-assigned external ID.
func (r *UserRepository) GetByExternalID(externalID string) (*models.User, error) {
	query := `
		SELECT id, sequence, external_id, display_name, created_at, updated_at
		FROM users
		WHERE external_id = ?
	`
	return r.scanUser(r.db.QueryRow(query, externalID), externalID)
}

// Update modifies an existing user in the database
func (r *UserRepository) Update(user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	user.SetUpdatedAt(now)

	query := `
		UPDATE users
		SET display_name = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query, user.DisplayName(), now, user.ID())
	if err != nil {
		return fmt.Errorf("%w: failed to update user: %v", shared.ErrStoreUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", shared.ErrStoreUnavailable, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrUserNotFound, user.ID())
	}

	return nil
}

// Delete removes a user by ID.
func (r *UserRepository) Delete(id string) error {
	return r.deleteWhere("id", id)
}

// DeleteByExternalID removes a user by the provider-assigned external ID.
func (r *UserRepository) DeleteByExternalID(externalID string) error {
	return r.deleteWhere("external_id", externalID)
}

// List retrieves all users matching the given criteria.
func (r *UserRepository) List(criteria map[string]any) ([]*models.User, error) {
	query := `
		SELECT id, sequence, external_id, display_name, created_at, updated_at
		FROM users
	`

	args := []any{}

	if externalID, ok := criteria["external_id"].(string); ok && externalID != "" {
		query += " WHERE external_id = ?"
		args = append(args, externalID)
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query users: %v", shared.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var (
			userID      string
			sequence    int
			externalID  string
			displayName string
			createdAt   time.Time
			updatedAt   time.Time
		)

		if err := rows.Scan(&userID, &sequence, &externalID, &displayName, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan user: %v", shared.ErrStoreUnavailable, err)
		}

		users = append(users, buildUser(userID, sequence, externalID, displayName, createdAt, updatedAt))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration error: %v", shared.ErrStoreUnavailable, err)
	}

	return users, nil
}

func (r *UserRepository) deleteWhere(column, value string) error {
	result, err := r.db.Exec(fmt.Sprintf("DELETE FROM users WHERE %s = ?", column), value)
	if err != nil {
		return fmt.Errorf("%w: failed to delete user: %v", shared.ErrStoreUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", shared.ErrStoreUnavailable, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrUserNotFound, value)
	}

	return nil
}

func (r *UserRepository) scanUser(row *sql.Row, key string) (*models.User, error) {
	var (
		userID      string
		sequence    int
		externalID  string
		displayName string
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(&userID, &sequence, &externalID, &displayName, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query user: %v", shared.ErrStoreUnavailable, err)
	}

	return buildUser(userID, sequence, externalID, displayName, createdAt, updatedAt), nil
}

func buildUser(id string, sequence int, externalID, displayName string, createdAt, updatedAt time.Time) *models.User {
	user := models.NewUser(sequence, externalID, displayName)
	user.SetID(id)
	user.SetCreatedAt(createdAt)
	user.SetUpdatedAt(updatedAt)
	return user
}

// isUniqueViolation reports whether err is a sqlite unique constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
