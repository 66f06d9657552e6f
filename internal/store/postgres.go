package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/yourorg/listing-sync/internal/canon"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Store struct {
	DB         *sql.DB
	Downloader Downloader
}

func Open(dsn string, dl Downloader) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{DB: db, Downloader: dl}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
            id          BIGSERIAL PRIMARY KEY,
            post_type   TEXT NOT NULL,
            title       TEXT NOT NULL DEFAULT '',
            title_key   TEXT NOT NULL DEFAULT '',
            name        TEXT NOT NULL DEFAULT '',
            content     TEXT NOT NULL DEFAULT '',
            status      TEXT NOT NULL,
            parent_id   BIGINT REFERENCES posts(id) ON DELETE SET NULL,
            guid        TEXT NOT NULL DEFAULT '',
            created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_posts_type_title ON posts(post_type, title_key);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_parent ON posts(parent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_attachment_content ON posts(content) WHERE post_type = 'attachment';`,
		`CREATE TABLE IF NOT EXISTS post_meta (
            post_id     BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
            meta_key    TEXT NOT NULL,
            meta_value  TEXT NOT NULL DEFAULT '',
            PRIMARY KEY (post_id, meta_key)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_post_meta_key_value ON post_meta(meta_key, meta_value);`,
		`CREATE TABLE IF NOT EXISTS post_terms (
            post_id     BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
            taxonomy    TEXT NOT NULL,
            term        TEXT NOT NULL,
            position    INTEGER NOT NULL DEFAULT 0,
            PRIMARY KEY (post_id, taxonomy, term)
        );`,
		`CREATE TABLE IF NOT EXISTS media_blobs (
            post_id       BIGINT PRIMARY KEY REFERENCES posts(id) ON DELETE CASCADE,
            content_type  TEXT NOT NULL DEFAULT '',
            data          BYTEA NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS options (
            name        TEXT PRIMARY KEY,
            value       TEXT NOT NULL,
            updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
        );`,
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// ---- listings

const listingCols = "id, title, content, status, created_at, updated_at"

func scanListing(row interface{ Scan(...any) error }) (Listing, error) {
	var l Listing
	err := row.Scan(&l.ID, &l.Title, &l.Content, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// FindListingByTitle matches on the folded title (entities decoded, case-insensitive).
func (s *Store) FindListingByTitle(ctx context.Context, title string) (*Listing, error) {
	q, args, err := psql.Select(listingCols).From("posts").
		Where(sq.Eq{"post_type": TypeListing, "title_key": canon.FoldTitle(title)}).
		OrderBy("id").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	return s.oneListing(ctx, q, args...)
}

// FindListingByMeta returns the oldest listing whose meta key equals value.
func (s *Store) FindListingByMeta(ctx context.Context, key, value string) (*Listing, error) {
	q, args, err := psql.Select("p.id, p.title, p.content, p.status, p.created_at, p.updated_at").
		From("posts p").Join("post_meta m ON m.post_id = p.id").
		Where(sq.Eq{"p.post_type": TypeListing, "m.meta_key": key, "m.meta_value": value}).
		OrderBy("p.id").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	return s.oneListing(ctx, q, args...)
}

func (s *Store) oneListing(ctx context.Context, q string, args ...any) (*Listing, error) {
	l, err := scanListing(s.DB.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) InsertListing(ctx context.Context, in ListingInput) (int64, error) {
	if in.Status == "" {
		in.Status = StatusPublish
	}
	var id int64
	err := s.DB.QueryRowContext(ctx, `
        INSERT INTO posts (post_type, title, title_key, content, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`,
		TypeListing, in.Title, canon.FoldTitle(in.Title), in.Content, in.Status,
	).Scan(&id)
	return id, err
}

func (s *Store) UpdateListing(ctx context.Context, id int64, in ListingInput) error {
	if in.Status == "" {
		in.Status = StatusPublish
	}
	return s.execOne(ctx, `
        UPDATE posts SET title=$2, title_key=$3, content=$4, status=$5, updated_at=now()
        WHERE id=$1 AND post_type=$6`,
		id, in.Title, canon.FoldTitle(in.Title), in.Content, in.Status, TypeListing)
}

// DeleteListing removes the listing with its meta and terms. Attached media
// survive with no parent.
func (s *Store) DeleteListing(ctx context.Context, id int64) error {
	return s.execOne(ctx, `DELETE FROM posts WHERE id=$1 AND post_type=$2`, id, TypeListing)
}

func (s *Store) ListListings(ctx context.Context) ([]Listing, error) {
	q, args, err := psql.Select(listingCols).From("posts").
		Where(sq.Eq{"post_type": TypeListing}).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ---- meta and terms

func (s *Store) GetMeta(ctx context.Context, postID int64, key string) (string, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT meta_value FROM post_meta WHERE post_id=$1 AND meta_key=$2`, postID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) SetMeta(ctx context.Context, postID int64, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES ($1,$2,$3)
        ON CONFLICT (post_id, meta_key) DO UPDATE SET meta_value=EXCLUDED.meta_value`,
		postID, key, value)
	return err
}

// SetTerms replaces every term of taxonomy on the post. Empty terms are skipped,
// so an empty list clears the taxonomy.
func (s *Store) SetTerms(ctx context.Context, postID int64, taxonomy string, terms []string) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM post_terms WHERE post_id=$1 AND taxonomy=$2`, postID, taxonomy); err != nil {
		return err
	}
	for i, t := range terms {
		if t == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, `
            INSERT INTO post_terms (post_id, taxonomy, term, position) VALUES ($1,$2,$3,$4)
            ON CONFLICT DO NOTHING`, postID, taxonomy, t, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Terms(ctx context.Context, postID int64, taxonomy string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT term FROM post_terms WHERE post_id=$1 AND taxonomy=$2 ORDER BY position, term`, postID, taxonomy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- media

const mediaCols = "id, COALESCE(parent_id, 0), guid, name, title, content"

func scanMedia(row interface{ Scan(...any) error }) (Media, error) {
	var m Media
	err := row.Scan(&m.ID, &m.ParentID, &m.GUID, &m.Name, &m.Title, &m.Backref)
	return m, err
}

func (s *Store) AttachedMedia(ctx context.Context, parentID int64) ([]Media, error) {
	q, args, err := psql.Select(mediaCols).From("posts").
		Where(sq.Eq{"post_type": TypeAttachment, "parent_id": parentID}).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindMediaByBackref returns the first media carrying ref, attached or not.
func (s *Store) FindMediaByBackref(ctx context.Context, ref string) (*Media, error) {
	q, args, err := psql.Select(mediaCols).From("posts").
		Where(sq.Eq{"post_type": TypeAttachment, "content": ref}).OrderBy("id").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	m, err := scanMedia(s.DB.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SideloadMedia downloads url and stores it as a new attachment of parentID.
func (s *Store) SideloadMedia(ctx context.Context, url string, parentID int64) (id int64, err error) {
	if s.Downloader == nil {
		return 0, errors.New("store has no downloader")
	}
	data, contentType, err := s.Downloader.Fetch(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", url, err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	name := canon.FileName(url)
	err = tx.QueryRowContext(ctx, `
        INSERT INTO posts (post_type, title, title_key, name, status, parent_id, guid)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id`,
		TypeAttachment, name, canon.FoldTitle(name), name, StatusInherit, nullID(parentID), url,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO media_blobs (post_id, content_type, data) VALUES ($1,$2,$3)`, id, contentType, data); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func (s *Store) UpdateMedia(ctx context.Context, id int64, in MediaUpdate) error {
	return s.execOne(ctx, `
        UPDATE posts SET name=$2, title=$3, title_key=$4, content=$5, updated_at=now()
        WHERE id=$1 AND post_type=$6`,
		id, in.Name, in.Title, canon.FoldTitle(in.Title), in.Backref, TypeAttachment)
}

func (s *Store) SetMediaParent(ctx context.Context, id, parentID int64) error {
	return s.execOne(ctx, `UPDATE posts SET parent_id=$2, updated_at=now() WHERE id=$1 AND post_type=$3`,
		id, nullID(parentID), TypeAttachment)
}

// DeleteMedia removes the attachment permanently, blob included.
func (s *Store) DeleteMedia(ctx context.Context, id int64) error {
	return s.execOne(ctx, `DELETE FROM posts WHERE id=$1 AND post_type=$2`, id, TypeAttachment)
}

// ---- options

func (s *Store) GetOption(ctx context.Context, name string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM options WHERE name=$1`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetOption(ctx context.Context, name, value string) error {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO options (name, value) VALUES ($1,$2)
        ON CONFLICT (name) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`, name, value)
	return err
}

func (s *Store) DeleteOption(ctx context.Context, name string) error {
	q, args, err := psql.Delete("options").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, q, args...)
	return err
}

func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}
