package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AnZomorodian/Globallink2/internal/types"
)

// Postgres is the database-backed Storage implementation. Transition
// atomicity comes from conditional UPDATEs keyed on the allowed predecessor
// statuses, so concurrent transitions on one call serialize in the database.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Storage = (*Postgres)(nil)

// OpenPostgres connects a pool and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// EnsureSchema creates the tables when they do not exist yet. Deployments
// with managed migrations can skip it; the statements are idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS users (
		id            text PRIMARY KEY,
		username      text NOT NULL UNIQUE,
		display_name  text NOT NULL,
		email         text NOT NULL UNIQUE,
		password      text NOT NULL,
		voice_id      text NOT NULL UNIQUE,
		phone_number  text,
		country_code  text,
		company_name  text,
		job_title     text,
		profile_image text,
		first_name    text,
		last_name     text,
		birth_date    text,
		bio           text,
		is_online     boolean NOT NULL DEFAULT false,
		created_at    timestamptz NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS calls (
		id           text PRIMARY KEY,
		caller_id    text NOT NULL REFERENCES users(id),
		recipient_id text NOT NULL REFERENCES users(id),
		status       text NOT NULL,
		start_time   timestamptz NOT NULL DEFAULT now(),
		end_time     timestamptz,
		duration     text
	);
	CREATE INDEX IF NOT EXISTS calls_caller_idx ON calls (caller_id, start_time DESC);
	CREATE INDEX IF NOT EXISTS calls_recipient_idx ON calls (recipient_id, start_time DESC);`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const userColumns = `id, username, display_name, email, password, voice_id,
	coalesce(phone_number, ''), coalesce(country_code, ''), coalesce(company_name, ''),
	coalesce(job_title, ''), coalesce(profile_image, ''), coalesce(first_name, ''),
	coalesce(last_name, ''), coalesce(birth_date, ''), coalesce(bio, ''),
	is_online, created_at`

func scanUser(row pgx.Row) (types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.Password, &u.VoiceID,
		&u.PhoneNumber, &u.CountryCode, &u.CompanyName, &u.JobTitle, &u.ProfileImage,
		&u.FirstName, &u.LastName, &u.BirthDate, &u.Bio, &u.IsOnline, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.User{}, ErrUserNotFound
	}
	return u, err
}

func (p *Postgres) getUserBy(ctx context.Context, column, value string) (types.User, error) {
	q := fmt.Sprintf(`SELECT %s FROM users WHERE %s = $1`, userColumns, column)
	return scanUser(p.pool.QueryRow(ctx, q, value))
}

func (p *Postgres) GetUser(ctx context.Context, id string) (types.User, error) {
	return p.getUserBy(ctx, "id", id)
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	return p.getUserBy(ctx, "username", username)
}

func (p *Postgres) GetUserByVoiceID(ctx context.Context, voiceID string) (types.User, error) {
	return p.getUserBy(ctx, "voice_id", voiceID)
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (types.User, error) {
	return p.getUserBy(ctx, "email", email)
}

func (p *Postgres) CreateUser(ctx context.Context, nu NewUser) (types.User, error) {
	q := `INSERT INTO users (id, username, display_name, email, password, voice_id,
		phone_number, country_code, company_name, job_title, first_name, last_name,
		birth_date, bio, is_online, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,false,now())
		RETURNING ` + userColumns
	// The generated voice id can collide with an existing user; retry with a
	// fresh one instead of surfacing the conflict.
	for attempt := 0; ; attempt++ {
		row := p.pool.QueryRow(ctx, q, uuid.NewString(), nu.Username, nu.DisplayName,
			nu.Email, nu.Password, newVoiceID(), nu.PhoneNumber, nu.CountryCode,
			nu.CompanyName, nu.JobTitle, nu.FirstName, nu.LastName, nu.BirthDate, nu.Bio)
		u, err := scanUser(row)
		if err == nil {
			return u, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return types.User{}, ErrEmailTaken
			case "users_voice_id_key":
				if attempt < 5 {
					continue
				}
				return types.User{}, fmt.Errorf("create user: voice id space exhausted: %w", err)
			default:
				return types.User{}, ErrUsernameTaken
			}
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}
}

func (p *Postgres) UpdateUser(ctx context.Context, id string, upd types.UserUpdate) (types.User, error) {
	q := `UPDATE users SET
		display_name = coalesce($2, display_name),
		email = coalesce($3, email),
		phone_number = coalesce($4, phone_number),
		country_code = coalesce($5, country_code),
		company_name = coalesce($6, company_name),
		job_title = coalesce($7, job_title),
		profile_image = coalesce($8, profile_image),
		first_name = coalesce($9, first_name),
		last_name = coalesce($10, last_name),
		birth_date = coalesce($11, birth_date),
		bio = coalesce($12, bio)
		WHERE id = $1
		RETURNING ` + userColumns
	row := p.pool.QueryRow(ctx, q, id, upd.DisplayName, upd.Email, upd.PhoneNumber,
		upd.CountryCode, upd.CompanyName, upd.JobTitle, upd.ProfileImage,
		upd.FirstName, upd.LastName, upd.BirthDate, upd.Bio)
	return scanUser(row)
}

func (p *Postgres) SetUserOnline(ctx context.Context, id string, online bool) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET is_online = $2 WHERE id = $1`, id, online)
	if err != nil {
		return fmt.Errorf("set user online: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *Postgres) OnlineUsers(ctx context.Context) ([]types.User, error) {
	q := fmt.Sprintf(`SELECT %s FROM users WHERE is_online ORDER BY username`, userColumns)
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("online users: %w", err)
	}
	defer rows.Close()
	var out []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const callColumns = `id, caller_id, recipient_id, status, start_time, end_time, coalesce(duration, '')`

func scanCall(row pgx.Row) (types.Call, error) {
	var c types.Call
	err := row.Scan(&c.ID, &c.CallerID, &c.RecipientID, &c.Status, &c.StartTime, &c.EndTime, &c.Duration)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Call{}, ErrCallNotFound
	}
	return c, err
}

func (p *Postgres) CreateCall(ctx context.Context, callerID, recipientID string) (types.Call, error) {
	if callerID == recipientID {
		return types.Call{}, ErrSelfCall
	}
	q := `INSERT INTO calls (id, caller_id, recipient_id, status, start_time)
		VALUES ($1, $2, $3, $4, now())
		RETURNING ` + callColumns
	row := p.pool.QueryRow(ctx, q, uuid.NewString(), callerID, recipientID, types.CallCalling)
	c, err := scanCall(row)
	if err != nil {
		return types.Call{}, fmt.Errorf("create call: %w", err)
	}
	return c, nil
}

func (p *Postgres) GetCall(ctx context.Context, id string) (types.Call, error) {
	q := fmt.Sprintf(`SELECT %s FROM calls WHERE id = $1`, callColumns)
	return scanCall(p.pool.QueryRow(ctx, q, id))
}

func (p *Postgres) CallHistory(ctx context.Context, userID string) ([]types.Call, error) {
	q := fmt.Sprintf(`SELECT %s FROM calls
		WHERE caller_id = $1 OR recipient_id = $1
		ORDER BY start_time DESC`, callColumns)
	rows, err := p.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("call history: %w", err)
	}
	defer rows.Close()
	var out []types.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// allowedFrom lists the predecessor statuses for each transition target,
// mirroring types.CallStatus.CanTransitionTo.
func allowedFrom(status types.CallStatus) []string {
	switch status {
	case types.CallConnected:
		return []string{string(types.CallCalling)}
	case types.CallEnded:
		return []string{string(types.CallCalling), string(types.CallConnected)}
	case types.CallMissed:
		return []string{string(types.CallCalling)}
	default:
		return nil
	}
}

func (p *Postgres) UpdateCallStatus(ctx context.Context, id string, status types.CallStatus, endTime *time.Time, duration string) (types.Call, bool, error) {
	from := allowedFrom(status)
	if len(from) == 0 {
		c, err := p.GetCall(ctx, id)
		return c, false, err
	}
	q := `UPDATE calls SET status = $2,
		end_time = coalesce($3, end_time),
		duration = coalesce(nullif($4, ''), duration)
		WHERE id = $1 AND status = any($5)
		RETURNING ` + callColumns
	c, err := scanCall(p.pool.QueryRow(ctx, q, id, status, endTime, duration, from))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, ErrCallNotFound) {
		return types.Call{}, false, fmt.Errorf("update call status: %w", err)
	}
	// No row matched: either the call does not exist or the transition is
	// stale. Re-read to tell the two apart.
	c, err = p.GetCall(ctx, id)
	if err != nil {
		return types.Call{}, false, err
	}
	return c, false, nil
}

func (p *Postgres) Counts(ctx context.Context) (int, int, int, error) {
	var users, calls, active int
	err := p.pool.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM users),
		(SELECT count(*) FROM calls),
		(SELECT count(*) FROM calls WHERE status NOT IN ('ended', 'missed'))`).
		Scan(&users, &calls, &active)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("counts: %w", err)
	}
	return users, calls, active, nil
}
