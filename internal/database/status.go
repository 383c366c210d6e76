package database

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
)

// cachedStatusRow mirrors public.fetched_statuses. Columns suffixed
// _original carry values as reported by the origin server; status_id is
// the home server's local id, back-filled from public.statuses.
type cachedStatusRow struct {
	URI                 string         `db:"uri"`
	URL                 sql.NullString `db:"url"`
	StatusID            sql.NullInt64  `db:"status_id"`
	StatusIDOriginal    sql.NullString `db:"status_id_original"`
	Text                sql.NullString `db:"text"`
	CreatedAtOriginal   sql.NullTime   `db:"created_at_original"`
	EditedAtOriginal    sql.NullTime   `db:"edited_at_original"`
	RepliesCount        int            `db:"replies_count"`
	ReblogsCount        int            `db:"reblogs_count"`
	FavouritesCount     int            `db:"favourites_count"`
	InReplyToIDOriginal sql.NullString `db:"in_reply_to_id_original"`
	ReblogOfIDOriginal  sql.NullString `db:"reblog_of_id_original"`
	SpoilerText         sql.NullString `db:"spoiler_text"`
	Reply               bool           `db:"reply"`
	Language            sql.NullString `db:"language"`
	PollIDOriginal      sql.NullString `db:"poll_id_original"`
	Original            bool           `db:"original"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

// toStatus rebuilds an API-shaped status from a cached row. The id is
// the local one when known, so callers can feed it straight into
// status_stats updates.
func (r *cachedStatusRow) toStatus() *fediverse.Status {
	status := &fediverse.Status{
		URI:             r.URI,
		URL:             r.URL.String,
		Content:         r.Text.String,
		SpoilerText:     r.SpoilerText.String,
		Language:        r.Language.String,
		InReplyToID:     r.InReplyToIDOriginal.String,
		RepliesCount:    r.RepliesCount,
		ReblogsCount:    r.ReblogsCount,
		FavouritesCount: r.FavouritesCount,
	}
	if r.StatusID.Valid {
		status.ID = strconv.FormatInt(r.StatusID.Int64, 10)
	}
	if r.CreatedAtOriginal.Valid {
		status.CreatedAt = r.CreatedAtOriginal.Time
	}
	if r.EditedAtOriginal.Valid {
		edited := r.EditedAtOriginal.Time
		status.EditedAt = &edited
	}
	if r.PollIDOriginal.Valid {
		status.Poll = &fediverse.Poll{ID: r.PollIDOriginal.String}
	}
	return status
}

// rowFromStatus flattens a status into column values for the upsert.
// status_id is deliberately absent: only the public.statuses join may
// assign it, since ids reported by third-party servers are theirs, not
// ours.
func rowFromStatus(status *fediverse.Status) cachedStatusRow {
	original := status.IsOriginal()
	row := cachedStatusRow{
		URI:             status.URI,
		URL:             nullString(status.EffectiveURL()),
		Text:            nullString(status.Content),
		SpoilerText:     nullString(status.SpoilerText),
		Language:        nullString(status.Language),
		RepliesCount:    status.RepliesCount,
		ReblogsCount:    status.ReblogsCount,
		FavouritesCount: status.FavouritesCount,
		Reply:           status.IsReply(),
		Original:        original,
	}
	if original {
		row.StatusIDOriginal = nullString(status.ID)
	}
	if !status.CreatedAt.IsZero() {
		row.CreatedAtOriginal = sql.NullTime{Time: status.CreatedAt, Valid: true}
	}
	if status.EditedAt != nil {
		row.EditedAtOriginal = sql.NullTime{Time: *status.EditedAt, Valid: true}
	}
	row.InReplyToIDOriginal = nullString(status.InReplyToID)
	if status.Reblog != nil {
		row.ReblogOfIDOriginal = nullString(status.Reblog.ID)
	}
	if status.Poll != nil {
		row.PollIDOriginal = nullString(status.Poll.ID)
	}
	return row
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
