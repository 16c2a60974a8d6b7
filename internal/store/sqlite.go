// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ManuGH/vodgate/internal/clock"
	"github.com/ManuGH/vodgate/internal/persistence/sqlite"
)

var migrations = []string{
	`
	CREATE TABLE videos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		duration INTEGER,
		resolution TEXT,
		format TEXT,
		thumbnail_path TEXT,
		state TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		tags_json TEXT NOT NULL DEFAULT '[]',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		CHECK ((duration IS NULL AND resolution IS NULL AND format IS NULL)
			OR (duration IS NOT NULL AND resolution IS NOT NULL AND format IS NOT NULL))
	);
	CREATE INDEX idx_videos_state ON videos(state);

	CREATE TABLE video_stats (
		video_id INTEGER PRIMARY KEY REFERENCES videos(id) ON DELETE CASCADE,
		views_count INTEGER NOT NULL DEFAULT 0,
		last_viewed_ms INTEGER,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);
	CREATE INDEX idx_video_stats_last_viewed ON video_stats(last_viewed_ms);

	CREATE TABLE access_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		video_id INTEGER NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		ip_address TEXT NOT NULL,
		user_agent TEXT NOT NULL,
		accessed_at_ms INTEGER NOT NULL
	);
	CREATE INDEX idx_access_logs_video ON access_logs(video_id, accessed_at_ms DESC);
	CREATE INDEX idx_access_logs_user ON access_logs(user_id, accessed_at_ms DESC);

	CREATE TABLE access_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL UNIQUE,
		user_id INTEGER,
		video_id INTEGER,
		playlist_id INTEGER,
		expires_at_ms INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL
	);
	`,
}

// SqliteStore implements Store on an embedded SQLite database.
type SqliteStore struct {
	DB  *sql.DB
	clk clock.Clock
}

// NewSqliteStore opens (and migrates) the database at dbPath.
func NewSqliteStore(ctx context.Context, dbPath string, clk clock.Clock) (*SqliteStore, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db, clk: clk}, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func ptrString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func ptrTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

const videoColumns = `id, title, description, filename, original_filename, file_size, content_type,
	duration, resolution, format, thumbnail_path, state, owner_id, tags_json, created_at_ms, updated_at_ms`

func scanVideo(row scanner) (Video, error) {
	var (
		v                  Video
		duration           sql.NullInt64
		resolution, format sql.NullString
		thumb              sql.NullString
		state, tagsJSON    string
		created, updated   int64
	)
	if err := row.Scan(&v.ID, &v.Title, &v.Description, &v.Filename, &v.OriginalFilename, &v.FileSize,
		&v.ContentType, &duration, &resolution, &format, &thumb, &state, &v.OwnerID, &tagsJSON,
		&created, &updated); err != nil {
		return Video{}, err
	}
	v.Duration = ptrInt(duration)
	v.Resolution = ptrString(resolution)
	v.Format = ptrString(format)
	v.ThumbnailPath = ptrString(thumb)
	v.State = ProcessingState(state)
	v.CreatedAt = time.UnixMilli(created)
	v.UpdatedAt = time.UnixMilli(updated)
	if err := json.Unmarshal([]byte(tagsJSON), &v.Tags); err != nil {
		return Video{}, fmt.Errorf("decode tags of video %d: %w", v.ID, err)
	}
	v.derive()
	return v, nil
}

func (s *SqliteStore) CreateVideo(ctx context.Context, v Video) (Video, error) {
	if v.Tags == nil {
		v.Tags = []string{}
	}
	tags, err := json.Marshal(v.Tags)
	if err != nil {
		return Video{}, err
	}
	now := s.clk.Now()
	ms := now.UnixMilli()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Video{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO videos (title, description, filename, original_filename, file_size, content_type,
			state, owner_id, tags_json, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Title, v.Description, v.Filename, v.OriginalFilename, v.FileSize, v.ContentType,
		string(StateUploaded), v.OwnerID, string(tags), ms, ms)
	if err != nil {
		return Video{}, fmt.Errorf("insert video: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Video{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO video_stats (video_id, views_count, created_at_ms, updated_at_ms) VALUES (?, 0, ?, ?)`,
		id, ms, ms); err != nil {
		return Video{}, fmt.Errorf("insert video stats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Video{}, err
	}

	v.ID = id
	v.State = StateUploaded
	v.Duration, v.Resolution, v.Format = nil, nil, nil
	v.CreatedAt = time.UnixMilli(ms)
	v.UpdatedAt = v.CreatedAt
	v.derive()
	return v, nil
}

func (s *SqliteStore) GetVideo(ctx context.Context, id int64) (Video, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Video{}, fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	return v, err
}

func (s *SqliteStore) queryVideos(ctx context.Context, query string, args ...any) ([]Video, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SqliteStore) ListVideos(ctx context.Context) ([]Video, error) {
	return s.queryVideos(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at_ms DESC, id DESC`)
}

func (s *SqliteStore) ListVideosByState(ctx context.Context, state ProcessingState) ([]Video, error) {
	return s.queryVideos(ctx, `SELECT `+videoColumns+` FROM videos WHERE state = ? ORDER BY id`, string(state))
}

// conflictOrMissing distinguishes a failed compare-and-set from a missing row.
func (s *SqliteStore) conflictOrMissing(ctx context.Context, id int64, want ProcessingState) error {
	var current string
	err := s.DB.QueryRowContext(ctx, `SELECT state FROM videos WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("video %d is %s, want %s: %w", id, current, want, ErrStateConflict)
}

func (s *SqliteStore) AdvanceState(ctx context.Context, id int64, from, to ProcessingState) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE videos SET state = ?, updated_at_ms = ? WHERE id = ? AND state = ?`,
		string(to), s.clk.Now().UnixMilli(), id, string(from))
	if err != nil {
		return fmt.Errorf("advance video %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.conflictOrMissing(ctx, id, from)
}

func (s *SqliteStore) ApplyProbe(ctx context.Context, id int64, meta *Metadata) error {
	var (
		duration           sql.NullInt64
		resolution, format sql.NullString
	)
	if meta != nil {
		duration = sql.NullInt64{Int64: meta.DurationSeconds, Valid: true}
		resolution = sql.NullString{String: meta.Resolution, Valid: true}
		format = sql.NullString{String: meta.Format, Valid: true}
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE videos SET duration = ?, resolution = ?, format = ?, state = ?, updated_at_ms = ?
		WHERE id = ? AND state = ?`,
		duration, resolution, format, string(StateReady), s.clk.Now().UnixMilli(), id, string(StateProbing))
	if err != nil {
		return fmt.Errorf("apply probe to video %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.conflictOrMissing(ctx, id, StateProbing)
}

func (s *SqliteStore) SetThumbnail(ctx context.Context, id int64, path string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE videos SET thumbnail_path = ?, updated_at_ms = ? WHERE id = ?`,
		path, s.clk.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set thumbnail of video %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SqliteStore) UpdateDetails(ctx context.Context, id int64, d Details) (Video, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Video{}, err
	}
	defer func() { _ = tx.Rollback() }()

	v, err := scanVideo(tx.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Video{}, fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Video{}, err
	}
	d.apply(&v)
	tags, err := json.Marshal(v.Tags)
	if err != nil {
		return Video{}, err
	}
	now := s.clk.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `UPDATE videos SET title = ?, description = ?, tags_json = ?, updated_at_ms = ? WHERE id = ?`,
		v.Title, v.Description, string(tags), now, id); err != nil {
		return Video{}, fmt.Errorf("update video %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Video{}, err
	}
	v.UpdatedAt = time.UnixMilli(now)
	return v, nil
}

func (s *SqliteStore) DeleteVideo(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete video %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanStats(row scanner) (VideoStats, error) {
	var (
		st               VideoStats
		last             sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&st.VideoID, &st.ViewsCount, &last, &created, &updated); err != nil {
		return VideoStats{}, err
	}
	st.LastViewed = ptrTime(last)
	st.CreatedAt = time.UnixMilli(created)
	st.UpdatedAt = time.UnixMilli(updated)
	return st, nil
}

func (s *SqliteStore) GetStats(ctx context.Context, videoID int64) (VideoStats, error) {
	st, err := scanStats(s.DB.QueryRowContext(ctx,
		`SELECT video_id, views_count, last_viewed_ms, created_at_ms, updated_at_ms FROM video_stats WHERE video_id = ?`,
		videoID))
	if errors.Is(err, sql.ErrNoRows) {
		return VideoStats{}, fmt.Errorf("stats for video %d: %w", videoID, ErrNotFound)
	}
	return st, err
}

func (s *SqliteStore) RecordView(ctx context.Context, entry AccessLog) (VideoStats, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return VideoStats{}, err
	}
	defer func() { _ = tx.Rollback() }()

	st, err := recordViewTx(ctx, tx, entry)
	if err != nil {
		return VideoStats{}, err
	}
	return st, tx.Commit()
}

func recordViewTx(ctx context.Context, tx *sql.Tx, entry AccessLog) (VideoStats, error) {
	at := entry.AccessedAt.UnixMilli()
	res, err := tx.ExecContext(ctx, `
		UPDATE video_stats SET views_count = views_count + 1, last_viewed_ms = ?, updated_at_ms = ?
		WHERE video_id = ?`, at, at, entry.VideoID)
	if err != nil {
		return VideoStats{}, fmt.Errorf("increment views of video %d: %w", entry.VideoID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return VideoStats{}, fmt.Errorf("stats for video %d: %w", entry.VideoID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO access_logs (user_id, video_id, ip_address, user_agent, accessed_at_ms)
		VALUES (?, ?, ?, ?, ?)`,
		nullInt(entry.UserID), entry.VideoID, entry.IPAddress, entry.UserAgent, at); err != nil {
		return VideoStats{}, fmt.Errorf("append access log: %w", err)
	}
	return scanStats(tx.QueryRowContext(ctx,
		`SELECT video_id, views_count, last_viewed_ms, created_at_ms, updated_at_ms FROM video_stats WHERE video_id = ?`,
		entry.VideoID))
}

func (s *SqliteStore) TotalViews(ctx context.Context) (int64, error) {
	var total int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(views_count), 0) FROM video_stats`).Scan(&total)
	return total, err
}

func (s *SqliteStore) queryViews(ctx context.Context, query string, args ...any) ([]VideoViews, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []VideoViews{}
	for rows.Next() {
		var (
			vv   VideoViews
			last sql.NullInt64
		)
		if err := rows.Scan(&vv.VideoID, &vv.Title, &vv.Views, &last); err != nil {
			return nil, err
		}
		vv.LastViewed = ptrTime(last)
		out = append(out, vv)
	}
	return out, rows.Err()
}

const viewsSelect = `
	SELECT s.video_id, v.title, s.views_count, s.last_viewed_ms
	FROM video_stats s JOIN videos v ON v.id = s.video_id`

func (s *SqliteStore) TopVideos(ctx context.Context, limit int) ([]VideoViews, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryViews(ctx, viewsSelect+` ORDER BY s.views_count DESC, s.video_id ASC LIMIT ?`, limit)
}

func (s *SqliteStore) ViewsByPeriod(ctx context.Context, start, end time.Time) ([]VideoViews, error) {
	return s.queryViews(ctx, viewsSelect+`
		WHERE s.last_viewed_ms BETWEEN ? AND ?
		ORDER BY s.views_count DESC, s.video_id ASC`, start.UnixMilli(), end.UnixMilli())
}

func (s *SqliteStore) CountVideos(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos`).Scan(&n)
	return n, err
}

func (s *SqliteStore) ListAccessLogs(ctx context.Context, filter AccessLogFilter) ([]AccessLog, error) {
	var (
		where []string
		args  []any
	)
	if filter.VideoID != nil {
		where = append(where, "video_id = ?")
		args = append(args, *filter.VideoID)
	}
	if filter.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	query := `SELECT id, user_id, video_id, ip_address, user_agent, accessed_at_ms FROM access_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY accessed_at_ms DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AccessLog{}
	for rows.Next() {
		var (
			e    AccessLog
			uid  sql.NullInt64
			when int64
		)
		if err := rows.Scan(&e.ID, &uid, &e.VideoID, &e.IPAddress, &e.UserAgent, &when); err != nil {
			return nil, err
		}
		e.UserID = ptrInt(uid)
		e.AccessedAt = time.UnixMilli(when)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SqliteStore) CreateToken(ctx context.Context, t Token) (Token, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clk.Now()
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO access_tokens (token, user_id, video_id, playlist_id, expires_at_ms, used, created_at_ms)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		t.Token, nullInt(t.UserID), nullInt(t.VideoID), nullInt(t.PlaylistID),
		t.ExpiresAt.UnixMilli(), t.CreatedAt.UnixMilli())
	if err != nil {
		var se *msqlite.Error
		if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return Token{}, ErrDuplicateToken
		}
		return Token{}, fmt.Errorf("insert token: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return Token{}, err
	}
	t.Used = false
	t.ExpiresAt = time.UnixMilli(t.ExpiresAt.UnixMilli())
	t.CreatedAt = time.UnixMilli(t.CreatedAt.UnixMilli())
	return t, nil
}

func (s *SqliteStore) GetToken(ctx context.Context, token string) (Token, error) {
	var (
		t                     Token
		uid, vid, pid         sql.NullInt64
		expires, created, use int64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, token, user_id, video_id, playlist_id, expires_at_ms, used, created_at_ms
		FROM access_tokens WHERE token = ?`, token).
		Scan(&t.ID, &t.Token, &uid, &vid, &pid, &expires, &use, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, err
	}
	t.UserID, t.VideoID, t.PlaylistID = ptrInt(uid), ptrInt(vid), ptrInt(pid)
	t.ExpiresAt = time.UnixMilli(expires)
	t.CreatedAt = time.UnixMilli(created)
	t.Used = use != 0
	return t, nil
}

func (s *SqliteStore) MarkTokenUsed(ctx context.Context, token string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE access_tokens SET used = 1 WHERE token = ? AND used = 0`, token)
	if err != nil {
		return false, fmt.Errorf("mark token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists int
	err = s.DB.QueryRowContext(ctx, `SELECT 1 FROM access_tokens WHERE token = ?`, token).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return false, err
}

func (s *SqliteStore) ReleaseToken(ctx context.Context, token string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE access_tokens SET used = 0 WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("release token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SqliteStore) SpendToken(ctx context.Context, token string, view *AccessLog) (bool, VideoStats, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, VideoStats{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE access_tokens SET used = 1 WHERE token = ? AND used = 0`, token)
	if err != nil {
		return false, VideoStats{}, fmt.Errorf("mark token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, VideoStats{}, err
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM access_tokens WHERE token = ?`, token).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, VideoStats{}, ErrNotFound
		}
		return false, VideoStats{}, err
	}

	var st VideoStats
	if view != nil {
		if st, err = recordViewTx(ctx, tx, *view); err != nil {
			return false, VideoStats{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, VideoStats{}, err
	}
	return true, st, nil
}

func (s *SqliteStore) TokenCounts(ctx context.Context, now time.Time) (TokenCounts, error) {
	var c TokenCounts
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN used = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expires_at_ms < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN used = 0 AND expires_at_ms >= ? THEN 1 ELSE 0 END), 0)
		FROM access_tokens`, now.UnixMilli(), now.UnixMilli()).Scan(&c.Total, &c.Used, &c.Expired, &c.Active)
	if err != nil {
		return TokenCounts{}, err
	}
	return c, nil
}
