package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByLogin(ctx context.Context, login string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Taken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	CreateAccount(ctx context.Context, acc Account, verifier string) (int64, error)
	LoadGrants(ctx context.Context, userID int64) (Grants, error)
	RenewVerifier(ctx context.Context, userID int64, verifier string) (bool, error)
	ConsumeVerifier(ctx context.Context, username, verifier string) (bool, error)
}

// SQLRepository implements Repository on the database pool.
type SQLRepository struct {
	db db.Database
}

// NewRepository constructs a repository.
func NewRepository(database db.Database) *SQLRepository {
	return &SQLRepository{db: database}
}

const (
	accountColumns = `id, username, email, password_hash, verified`

	findByLoginSQL = `SELECT ` + accountColumns + ` FROM users WHERE username = :login OR email = :login LIMIT 1`
	findByEmailSQL = `SELECT ` + accountColumns + ` FROM users WHERE email = :email`

	takenSQL = `SELECT EXISTS (SELECT 1 FROM users WHERE username = :username) AS username_taken, ` +
		`EXISTS (SELECT 1 FROM users WHERE email = :email) AS email_taken`

	insertUserSQL = `INSERT INTO users (username, email, password_hash, verified) ` +
		`VALUES (:username, :email, :password_hash, :verified) RETURNING id`
	insertVerifierSQL = `INSERT INTO user_email_verifiers (user_id, verifier) VALUES (:user_id, :verifier)`

	superuserSQL         = `SELECT EXISTS (SELECT 1 FROM superusers WHERE user_id = :user_id) AS superuser`
	adminProjectsSQL     = `SELECT p.name FROM project_admins pa JOIN projects p ON p.id = pa.project_id WHERE pa.user_id = :user_id ORDER BY p.name`
	moderatorProjectsSQL = `SELECT p.name FROM project_moderators pm JOIN projects p ON p.id = pm.project_id WHERE pm.user_id = :user_id ORDER BY p.name`

	// The conflict update is skipped while the current verifier is younger
	// than the cool-down, which leaves zero affected rows.
	renewVerifierSQL = `INSERT INTO user_email_verifiers (user_id, verifier) VALUES (:user_id, :verifier) ` +
		`ON CONFLICT (user_id) DO UPDATE SET verifier = EXCLUDED.verifier, created_at = NOW() ` +
		`WHERE user_email_verifiers.created_at < NOW() - INTERVAL '5 minutes'`

	consumeVerifierSQL = `DELETE FROM user_email_verifiers v USING users u ` +
		`WHERE v.user_id = u.id AND u.username = :username AND v.verifier = :verifier`
	markVerifiedSQL = `UPDATE users SET verified = TRUE WHERE username = :username`
)

// FindByLogin fetches a user by username or email.
func (r *SQLRepository) FindByLogin(ctx context.Context, login string) (*Account, error) {
	return r.findOne(ctx, findByLoginSQL, db.Args{"login": login})
}

// FindByEmail fetches a user by email.
func (r *SQLRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findOne(ctx, findByEmailSQL, db.Args{"email": email})
}

func (r *SQLRepository) findOne(ctx context.Context, query string, args db.Args) (*Account, error) {
	row, err := r.db.FetchOne(ctx, query, args)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	id, _ := row.Int64("id")
	return &Account{
		ID:           id,
		Username:     row.String("username"),
		Email:        row.String("email"),
		PasswordHash: row.String("password_hash"),
		Verified:     row.Bool("verified"),
	}, nil
}

// Taken reports whether username or email already exist.
func (r *SQLRepository) Taken(ctx context.Context, username, email string) (bool, bool, error) {
	row, err := r.db.FetchOne(ctx, takenSQL, db.Args{"username": username, "email": email})
	if err != nil {
		return false, false, err
	}
	return row.Bool("username_taken"), row.Bool("email_taken"), nil
}

// CreateAccount inserts the user and, when verifier is set, its first
// verifier in one transaction.
func (r *SQLRepository) CreateAccount(ctx context.Context, acc Account, verifier string) (int64, error) {
	var id int64
	err := r.db.Begin(ctx, func(ctx context.Context, tx *db.Tx) error {
		row, err := tx.FetchOne(ctx, insertUserSQL, db.Args{
			"username":      acc.Username,
			"email":         acc.Email,
			"password_hash": acc.PasswordHash,
			"verified":      acc.Verified,
		})
		if err != nil {
			return err
		}
		var ok bool
		if id, ok = row.Int64("id"); !ok {
			return fmt.Errorf("auth: unexpected id %T", row.At(0))
		}
		if verifier == "" {
			return nil
		}
		_, err = tx.Execute(ctx, insertVerifierSQL, db.Args{"user_id": id, "verifier": verifier})
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// LoadGrants reads the superuser flag and project memberships.
func (r *SQLRepository) LoadGrants(ctx context.Context, userID int64) (Grants, error) {
	var g Grants
	args := db.Args{"user_id": userID}
	err := r.db.Begin(ctx, func(ctx context.Context, tx *db.Tx) error {
		row, err := tx.FetchOne(ctx, superuserSQL, args)
		if err != nil {
			return err
		}
		g.Superuser = row.Bool("superuser")
		if g.AdminProjects, err = names(ctx, tx, adminProjectsSQL, args); err != nil {
			return err
		}
		g.ModeratorProjects, err = names(ctx, tx, moderatorProjectsSQL, args)
		return err
	})
	return g, err
}

func names(ctx context.Context, q db.Querier, query string, args db.Args) ([]string, error) {
	rows, err := q.FetchAll(ctx, query, args)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.String("name"))
	}
	return out, nil
}

// RenewVerifier stores a new verifier unless the current one is inside the
// cool-down window, returning false in that case.
func (r *SQLRepository) RenewVerifier(ctx context.Context, userID int64, verifier string) (bool, error) {
	n, err := r.db.Execute(ctx, renewVerifierSQL, db.Args{"user_id": userID, "verifier": verifier})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConsumeVerifier deletes a matching verifier and marks the user verified.
func (r *SQLRepository) ConsumeVerifier(ctx context.Context, username, verifier string) (bool, error) {
	var consumed bool
	err := r.db.Begin(ctx, func(ctx context.Context, tx *db.Tx) error {
		n, err := tx.Execute(ctx, consumeVerifierSQL, db.Args{"username": username, "verifier": verifier})
		if err != nil || n == 0 {
			return err
		}
		consumed = true
		_, err = tx.Execute(ctx, markVerifiedSQL, db.Args{"username": username})
		return err
	})
	return consumed, err
}

var _ Repository = (*SQLRepository)(nil)
