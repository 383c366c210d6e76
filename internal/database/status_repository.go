package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

// schemaMigrations creates the one table this tool owns. The home
// server's own tables (public.statuses, public.status_stats) are never
// touched by DDL here.
var schemaMigrations = []string{
	`CREATE TABLE IF NOT EXISTS public.fetched_statuses (
		uri text PRIMARY KEY,
		url text,
		status_id bigint,
		status_id_original text,
		text text,
		created_at_original timestamptz,
		edited_at_original timestamptz,
		replies_count integer NOT NULL DEFAULT 0,
		reblogs_count integer NOT NULL DEFAULT 0,
		favourites_count integer NOT NULL DEFAULT 0,
		in_reply_to_id_original text,
		reblog_of_id_original text,
		spoiler_text text,
		reply boolean NOT NULL DEFAULT false,
		language text,
		poll_id_original text,
		original boolean NOT NULL DEFAULT false,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS index_fetched_statuses_on_url ON public.fetched_statuses (url)`,
	`CREATE INDEX IF NOT EXISTS index_fetched_statuses_on_status_id ON public.fetched_statuses (status_id)`,
}

const cachedStatusColumns = `fs.uri, fs.url, COALESCE(fs.status_id, s.id) AS status_id,
	fs.status_id_original, fs.text, fs.created_at_original, fs.edited_at_original,
	fs.replies_count, fs.reblogs_count, fs.favourites_count,
	fs.in_reply_to_id_original, fs.reblog_of_id_original, fs.spoiler_text,
	fs.reply, fs.language, fs.poll_id_original, fs.original, fs.created_at, fs.updated_at`

// upsertStatusQuery merges an observation into the cache. Counters only
// grow, the original flag only turns on, and a non-original observation
// never overwrites a row recorded from the origin server. status_id is
// resolved by joining the home server's statuses on uri, and once set it
// sticks.
const upsertStatusQuery = `
	INSERT INTO public.fetched_statuses (
		uri, url, status_id, status_id_original, text,
		created_at_original, edited_at_original,
		replies_count, reblogs_count, favourites_count,
		in_reply_to_id_original, reblog_of_id_original,
		spoiler_text, reply, language, poll_id_original, original,
		created_at, updated_at
	) VALUES (
		$1, $2, (SELECT id FROM public.statuses WHERE uri = $1), $3, $4,
		$5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now()
	)
	ON CONFLICT (uri) DO UPDATE SET
		url = COALESCE(EXCLUDED.url, fetched_statuses.url),
		status_id = COALESCE(fetched_statuses.status_id, EXCLUDED.status_id),
		status_id_original = COALESCE(EXCLUDED.status_id_original, fetched_statuses.status_id_original),
		text = COALESCE(EXCLUDED.text, fetched_statuses.text),
		edited_at_original = COALESCE(EXCLUDED.edited_at_original, fetched_statuses.edited_at_original),
		replies_count = GREATEST(fetched_statuses.replies_count, EXCLUDED.replies_count),
		reblogs_count = GREATEST(fetched_statuses.reblogs_count, EXCLUDED.reblogs_count),
		favourites_count = GREATEST(fetched_statuses.favourites_count, EXCLUDED.favourites_count),
		in_reply_to_id_original = COALESCE(EXCLUDED.in_reply_to_id_original, fetched_statuses.in_reply_to_id_original),
		reblog_of_id_original = COALESCE(EXCLUDED.reblog_of_id_original, fetched_statuses.reblog_of_id_original),
		spoiler_text = COALESCE(EXCLUDED.spoiler_text, fetched_statuses.spoiler_text),
		reply = fetched_statuses.reply OR EXCLUDED.reply,
		language = COALESCE(EXCLUDED.language, fetched_statuses.language),
		poll_id_original = COALESCE(EXCLUDED.poll_id_original, fetched_statuses.poll_id_original),
		original = fetched_statuses.original OR EXCLUDED.original,
		updated_at = now()
	WHERE NOT (fetched_statuses.original AND NOT EXCLUDED.original)`

const getStatusByURLQuery = `
	SELECT ` + cachedStatusColumns + `
	FROM public.fetched_statuses fs
	LEFT JOIN public.statuses s ON s.uri = fs.uri
	WHERE fs.url = $1`

const getStatusesByURLQuery = `
	SELECT ` + cachedStatusColumns + `
	FROM public.fetched_statuses fs
	LEFT JOIN public.statuses s ON s.uri = fs.uri
	WHERE fs.url = ANY($1)`

// StatusRepository persists fetched statuses in the home server's
// PostgreSQL database.
type StatusRepository struct {
	db     *sqlx.DB
	logger logger.Interface
}

// NewStatusRepository creates a repository over an open connection.
func NewStatusRepository(db *sqlx.DB, log logger.Interface) *StatusRepository {
	return &StatusRepository{
		db:     db,
		logger: log.WithComponent("status_repository"),
	}
}

// EnsureSchema creates the fetched_statuses table and its indexes if
// they do not exist yet.
func (r *StatusRepository) EnsureSchema(ctx context.Context) error {
	for _, migration := range schemaMigrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	r.logger.Debug("Schema is up to date")
	return nil
}

// CacheStatus records one observation of a status.
func (r *StatusRepository) CacheStatus(ctx context.Context, status *fediverse.Status) error {
	if status == nil || status.URI == "" {
		return errors.New("status has no uri")
	}

	row := rowFromStatus(status)
	_, err := r.db.ExecContext(ctx, upsertStatusQuery,
		row.URI, row.URL, row.StatusIDOriginal, row.Text,
		row.CreatedAtOriginal, row.EditedAtOriginal,
		row.RepliesCount, row.ReblogsCount, row.FavouritesCount,
		row.InReplyToIDOriginal, row.ReblogOfIDOriginal,
		row.SpoilerText, row.Reply, row.Language, row.PollIDOriginal,
		row.Original,
	)
	if err != nil {
		return fmt.Errorf("failed to cache status %s: %w", status.URI, err)
	}
	return nil
}

// GetFromCache looks a status up by url. A miss returns (nil, nil).
func (r *StatusRepository) GetFromCache(ctx context.Context, url string) (*fediverse.Status, error) {
	var row cachedStatusRow
	err := r.db.GetContext(ctx, &row, getStatusByURLQuery, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached status: %w", err)
	}
	return row.toStatus(), nil
}

// GetDictFromCache bulk-resolves urls in a single query.
func (r *StatusRepository) GetDictFromCache(ctx context.Context, urls []string) (map[string]*fediverse.Status, error) {
	result := make(map[string]*fediverse.Status, len(urls))
	if len(urls) == 0 {
		return result, nil
	}

	var rows []cachedStatusRow
	if err := r.db.SelectContext(ctx, &rows, getStatusesByURLQuery, pq.Array(urls)); err != nil {
		return nil, fmt.Errorf("failed to get cached statuses: %w", err)
	}
	for i := range rows {
		if rows[i].URL.Valid {
			result[rows[i].URL.String] = rows[i].toStatus()
		}
	}
	return result, nil
}
