package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"mediabin/internal/models"
)

const pgUniqueViolation = "23505"

type postgresRepository struct {
	pool  *pgxpool.Pool
	cfg   PostgresConfig
	clock func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists before returning it.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg, clock: cfg.Clock}
	if err := repo.ensureSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close drains the connection pool, bounded by ctx.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) withConn(fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	ctx := context.Background()
	if r.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AcquireTimeout)
		defer cancel()
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire postgres connection: %w", err)
	}
	defer conn.Release()
	return fn(ctx, conn)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not initialised")
	}
	return r.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// User operations

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.User{}, validationErrorf("username is required")
	}
	email := normalizeEmail(params.Email)
	if email == "" {
		return models.User{}, validationErrorf("email is required")
	}
	if params.Password == "" {
		return models.User{}, validationErrorf("password is required")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(params.Password), passwordHashCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:           generateID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashed),
		CreatedAt:    r.clock(),
	}

	err = r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		_, execErr := conn.Exec(ctx,
			`INSERT INTO users (id, username, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
			user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
		return execErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrEmailInUse
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) GetUser(id string) (models.User, bool) {
	var user models.User
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx,
			`SELECT id, username, email, password_hash, created_at FROM users WHERE id = $1`, id)
		return row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	})
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) FindUserByEmail(email string) (models.User, bool) {
	var user models.User
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx,
			`SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`,
			normalizeEmail(email))
		return row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	})
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) AuthenticateUser(email, password string) (models.User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return models.User{}, validationErrorf("email is required")
	}
	if password == "" {
		return models.User{}, validationErrorf("password is required")
	}

	var user models.User
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx,
			`SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`, normalized)
		return row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", normalized, ErrNotFound)
	} else if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("verify password: %w", err)
	}
	return user, nil
}

// Media operations

const mediaColumns = `id, owner_id, title, filename, media_type, content, created_at, updated_at`

func scanMedia(row pgx.Row) (models.Media, error) {
	var media models.Media
	err := row.Scan(&media.ID, &media.OwnerID, &media.Title, &media.Filename,
		&media.MediaType, &media.Content, &media.CreatedAt, &media.UpdatedAt)
	return media, err
}

func collectMediaRows(rows pgx.Rows) ([]models.Media, error) {
	defer rows.Close()
	var media []models.Media
	for rows.Next() {
		record, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		media = append(media, record)
	}
	return media, rows.Err()
}

func (r *postgresRepository) CreateMedia(params CreateMediaParams) (models.Media, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Media{}, validationErrorf("title is required")
	}
	ownerID := strings.TrimSpace(params.OwnerID)
	if ownerID == "" {
		return models.Media{}, validationErrorf("owner is required")
	}
	if len(params.Content) == 0 {
		return models.Media{}, validationErrorf("media content is required")
	}

	now := r.clock()
	media := models.Media{
		ID:        generateID(),
		OwnerID:   ownerID,
		Title:     title,
		Filename:  strings.TrimSpace(params.Filename),
		MediaType: strings.TrimSpace(params.MediaType),
		Content:   append([]byte(nil), params.Content...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		var exists bool
		if scanErr := conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, ownerID).Scan(&exists); scanErr != nil {
			return fmt.Errorf("check owner: %w", scanErr)
		}
		if !exists {
			return fmt.Errorf("owner %s: %w", ownerID, ErrNotFound)
		}
		_, execErr := conn.Exec(ctx,
			`INSERT INTO media (id, owner_id, title, filename, media_type, content, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			media.ID, media.OwnerID, media.Title, media.Filename, media.MediaType,
			media.Content, media.CreatedAt, media.UpdatedAt)
		if execErr != nil {
			return fmt.Errorf("insert media: %w", execErr)
		}
		return nil
	})
	if err != nil {
		return models.Media{}, err
	}
	return media, nil
}

func (r *postgresRepository) GetMedia(id string) (models.Media, bool) {
	var media models.Media
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		var scanErr error
		media, scanErr = scanMedia(conn.QueryRow(ctx,
			`SELECT `+mediaColumns+` FROM media WHERE id = $1`, id))
		return scanErr
	})
	if err != nil {
		return models.Media{}, false
	}
	return media, true
}

func (r *postgresRepository) UpdateMedia(id string, update MediaUpdate) (models.Media, error) {
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return models.Media{}, validationErrorf("title cannot be empty")
	}
	if update.File != nil && len(update.File.Content) == 0 {
		return models.Media{}, validationErrorf("replacement content cannot be empty")
	}

	var media models.Media
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin update: %w", err)
		}
		defer rollbackTx(ctx, tx)

		current, err := scanMedia(tx.QueryRow(ctx,
			`SELECT `+mediaColumns+` FROM media WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("media %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load media: %w", err)
		}

		if update.Title != nil {
			current.Title = strings.TrimSpace(*update.Title)
		}
		if update.File != nil {
			current.Filename = strings.TrimSpace(update.File.Filename)
			current.MediaType = strings.TrimSpace(update.File.MediaType)
			current.Content = append([]byte(nil), update.File.Content...)
		}
		current.UpdatedAt = r.clock()

		if _, err := tx.Exec(ctx,
			`UPDATE media SET title = $2, filename = $3, media_type = $4, content = $5, updated_at = $6 WHERE id = $1`,
			current.ID, current.Title, current.Filename, current.MediaType,
			current.Content, current.UpdatedAt); err != nil {
			return fmt.Errorf("update media: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit update: %w", err)
		}
		media = current
		return nil
	})
	if err != nil {
		return models.Media{}, err
	}
	return media, nil
}

func (r *postgresRepository) DeleteMedia(id string) error {
	return r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, `DELETE FROM media WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete media: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("media %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (r *postgresRepository) ListMedia() []models.Media {
	var media []models.Media
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, queryErr := conn.Query(ctx,
			`SELECT `+mediaColumns+` FROM media ORDER BY created_at, id`)
		if queryErr != nil {
			return queryErr
		}
		var collectErr error
		media, collectErr = collectMediaRows(rows)
		return collectErr
	})
	if err != nil {
		return nil
	}
	return media
}

func (r *postgresRepository) ListLatestMedia(limit int) []models.Media {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	var media []models.Media
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, queryErr := conn.Query(ctx,
			`SELECT `+mediaColumns+` FROM media ORDER BY created_at DESC, id LIMIT $1`, limit)
		if queryErr != nil {
			return queryErr
		}
		var collectErr error
		media, collectErr = collectMediaRows(rows)
		return collectErr
	})
	if err != nil {
		return nil
	}
	return media
}

// likePatternEscaper neutralises LIKE metacharacters so a search term is
// matched literally. The query using the result must carry ESCAPE '\'.
var likePatternEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLikePattern(term string) string {
	return likePatternEscaper.Replace(term)
}

func (r *postgresRepository) SearchMedia(query string) ([]models.Media, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, validationErrorf("search query is required")
	}
	var media []models.Media
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, queryErr := conn.Query(ctx,
			`SELECT `+mediaColumns+` FROM media WHERE title ILIKE '%' || $1 || '%' ESCAPE '\' ORDER BY created_at, id`,
			escapeLikePattern(trimmed))
		if queryErr != nil {
			return queryErr
		}
		var collectErr error
		media, collectErr = collectMediaRows(rows)
		return collectErr
	})
	if err != nil {
		return nil, fmt.Errorf("search media: %w", err)
	}
	if len(media) == 0 {
		return nil, ErrNoMatches
	}
	return media, nil
}

func (r *postgresRepository) ListMediaByOwner(ownerID string) ([]models.Media, error) {
	var media []models.Media
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		var exists bool
		if scanErr := conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, ownerID).Scan(&exists); scanErr != nil {
			return fmt.Errorf("check owner: %w", scanErr)
		}
		if !exists {
			return fmt.Errorf("owner %s: %w", ownerID, ErrNotFound)
		}
		rows, queryErr := conn.Query(ctx,
			`SELECT `+mediaColumns+` FROM media WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
		if queryErr != nil {
			return queryErr
		}
		var collectErr error
		media, collectErr = collectMediaRows(rows)
		return collectErr
	})
	if err != nil {
		return nil, err
	}
	if media == nil {
		media = []models.Media{}
	}
	return media, nil
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}

var _ Repository = (*postgresRepository)(nil)
