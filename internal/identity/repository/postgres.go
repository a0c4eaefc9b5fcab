package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"phone-onboarding/backend/internal/identity/domain"
)

const uniqueViolation = "23505"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresRepository stores identities in a Postgres table.
type PostgresRepository struct {
	db    *sql.DB
	table string // quoted identifier
	name  string

	insertSQL, selectByIDSQL, selectByPhoneSQL, listSQL, updateSQL, deleteSQL string
}

const identityColumns = `id, name, email, phone, otp_code, otp_issued_at, otp_expires_at,
	otp_verified, otp_failed_attempts, verified_at, password_hash, version, created_at, updated_at`

// NewPostgresRepository returns an identity repository backed by table.
// table must be a plain SQL identifier; it is quoted before use.
func NewPostgresRepository(db *sql.DB, table string) (*PostgresRepository, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("identity repository: invalid table name %q", table)
	}
	t := pgx.Identifier{table}.Sanitize()
	return &PostgresRepository{
		db:    db,
		table: t,
		name:  table,
		insertSQL: `INSERT INTO ` + t + ` (` + identityColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		selectByIDSQL:    `SELECT ` + identityColumns + ` FROM ` + t + ` WHERE id = $1`,
		selectByPhoneSQL: `SELECT ` + identityColumns + ` FROM ` + t + ` WHERE phone = $1`,
		listSQL:          `SELECT ` + identityColumns + ` FROM ` + t + ` ORDER BY created_at, id`,
		updateSQL: `UPDATE ` + t + ` SET name = $3, email = $4, otp_code = $5, otp_issued_at = $6,
			otp_expires_at = $7, otp_verified = $8, otp_failed_attempts = $9, verified_at = $10,
			password_hash = $11, updated_at = $12, version = version + 1
			WHERE id = $1 AND version = $2`,
		deleteSQL: `DELETE FROM ` + t + ` WHERE id = $1`,
	}, nil
}

// Create inserts i. i.ID must be a uuid.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, r.insertSQL,
		i.ID, i.Name, i.Email, i.Phone,
		nullString(i.OTPCode), nullTime(i.OTPIssuedAt), nullTime(i.OTPExpiresAt),
		i.OTPVerified, i.OTPFailedAttempts, i.VerifiedAt, nullString(i.PasswordHash),
		i.Version, i.CreatedAt, i.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrPhoneTaken
	}
	return err
}

// GetByID returns the identity for id, or nil if not found. Ids that are not
// uuids cannot exist and are reported as not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, r.selectByIDSQL, id)
}

// GetByPhone returns the identity registered with phone, or nil if not found.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.Identity, error) {
	return r.getOne(ctx, r.selectByPhoneSQL, phone)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Identity, error) {
	i, err := scanIdentity(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return i, nil
}

// List returns all identities in creation order.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Identity, error) {
	rows, err := r.db.QueryContext(ctx, r.listSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// Update performs a compare-and-swap on version.
func (r *PostgresRepository) Update(ctx context.Context, i *domain.Identity) error {
	if _, err := uuid.Parse(i.ID); err != nil {
		return ErrVersionConflict
	}
	res, err := r.db.ExecContext(ctx, r.updateSQL,
		i.ID, i.Version, i.Name, i.Email,
		nullString(i.OTPCode), nullTime(i.OTPIssuedAt), nullTime(i.OTPExpiresAt),
		i.OTPVerified, i.OTPFailedAttempts, i.VerifiedAt, nullString(i.PasswordHash),
		i.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	i.Version++
	return nil
}

// Delete removes the identity with id.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, r.deleteSQL, id)
	return err
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ErrTableMissing is returned by CheckTable when the configured table does not exist.
var ErrTableMissing = errors.New("identity table does not exist")

// CheckTable reports ErrTableMissing unless the repository's table exists.
// The shipped migration only creates "identities".
func (r *PostgresRepository) CheckTable(ctx context.Context) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1)`, r.name).Scan(&exists); err != nil {
		return fmt.Errorf("identity repository: check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableMissing, r.table)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*domain.Identity, error) {
	var (
		i                  domain.Identity
		code, hash         sql.NullString
		issuedAt, expireAt sql.NullTime
		verifiedAt         sql.NullTime
	)
	err := row.Scan(&i.ID, &i.Name, &i.Email, &i.Phone, &code, &issuedAt, &expireAt,
		&i.OTPVerified, &i.OTPFailedAttempts, &verifiedAt, &hash, &i.Version, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	i.OTPCode = code.String
	i.PasswordHash = hash.String
	i.OTPIssuedAt = issuedAt.Time
	i.OTPExpiresAt = expireAt.Time
	if verifiedAt.Valid {
		t := verifiedAt.Time
		i.VerifiedAt = &t
	}
	return &i, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
