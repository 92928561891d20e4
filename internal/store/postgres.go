package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash)
		VALUES ($1, LOWER($2), $3, $4)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users WHERE email=LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateSite(ctx context.Context, site Site, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create site: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sites (id, name, subdomain, plan)
		VALUES ($1, $2, $3, $4)
	`, site.ID, site.Name, site.Subdomain, site.Plan); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert site: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO site_memberships (site_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, site.ID, ownerID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create site: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSite(ctx context.Context, siteID string) (Site, error) {
	var site Site
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, subdomain, plan, created_at, updated_at
		FROM sites WHERE id=$1
	`, siteID).Scan(&site.ID, &site.Name, &site.Subdomain, &site.Plan, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		return Site{}, err
	}
	return site, nil
}

func (s *PostgresStore) ListSitesForUser(ctx context.Context, userID string) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.name, st.subdomain, st.plan, st.created_at, st.updated_at
		FROM sites st
		JOIN site_memberships sm ON sm.site_id = st.id
		WHERE sm.user_id = $1
		ORDER BY st.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	items := make([]Site, 0)
	for rows.Next() {
		var site Site
		if err := rows.Scan(&site.ID, &site.Name, &site.Subdomain, &site.Plan, &site.CreatedAt, &site.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		items = append(items, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, siteID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_memberships (site_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (site_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, siteID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRole(ctx context.Context, siteID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM site_memberships WHERE site_id=$1 AND user_id=$2
	`, siteID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) InsertCollection(ctx context.Context, col Collection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, site_id, slug, name, url_pattern, fields)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, col.ID, col.SiteID, col.Slug, col.Name, col.URLPattern, col.Fields)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCollection(ctx context.Context, col Collection) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE collections
		SET name=$3, url_pattern=$4, fields=$5, updated_at=NOW()
		WHERE site_id=$1 AND slug=$2
	`, col.SiteID, col.Slug, col.Name, col.URLPattern, col.Fields)
	if err != nil {
		return fmt.Errorf("update collection: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCollectionBySlug(ctx context.Context, siteID, slug string) (Collection, error) {
	var col Collection
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, slug, name, url_pattern, fields, created_at, updated_at
		FROM collections WHERE site_id=$1 AND slug=$2
	`, siteID, slug).Scan(&col.ID, &col.SiteID, &col.Slug, &col.Name, &col.URLPattern, &col.Fields, &col.CreatedAt, &col.UpdatedAt)
	if err != nil {
		return Collection{}, err
	}
	return col, nil
}

func (s *PostgresStore) ListCollections(ctx context.Context, siteID string) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, slug, name, url_pattern, fields, created_at, updated_at
		FROM collections WHERE site_id=$1
		ORDER BY created_at
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	items := make([]Collection, 0)
	for rows.Next() {
		var col Collection
		if err := rows.Scan(&col.ID, &col.SiteID, &col.Slug, &col.Name, &col.URLPattern, &col.Fields, &col.CreatedAt, &col.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		items = append(items, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteCollection(ctx context.Context, siteID, slug string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE site_id=$1 AND slug=$2`, siteID, slug)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

const itemColumns = `
	id, site_id, collection_id, title, slug, seo_title, seo_description,
	og_image, status, published_at, data, draft, created_at, updated_at
`

func (s *PostgresStore) InsertItem(ctx context.Context, item ContentItem) error {
	data, draft, err := marshalItemJSON(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_items
			(id, site_id, collection_id, title, slug, seo_title, seo_description, og_image, status, published_at, data, draft)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, item.ID, item.SiteID, item.CollectionID, item.Title, item.Slug, item.SeoTitle,
		item.SeoDescription, item.OGImage, item.Status, item.PublishedAt, data, draft)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, siteID, itemID string) (ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM content_items WHERE site_id=$1 AND id=$2
	`, siteID, itemID)
	return scanItem(row)
}

func (s *PostgresStore) ListItems(ctx context.Context, siteID, collectionID string) ([]ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM content_items
		WHERE site_id=$1 AND collection_id=$2
		ORDER BY created_at
	`, siteID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]ContentItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item ContentItem) error {
	data, draft, err := marshalItemJSON(item)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_items
		SET title=$3, slug=$4, seo_title=$5, seo_description=$6, og_image=$7,
			status=$8, published_at=$9, data=$10, draft=$11, updated_at=NOW()
		WHERE site_id=$1 AND id=$2
	`, item.SiteID, item.ID, item.Title, item.Slug, item.SeoTitle, item.SeoDescription,
		item.OGImage, item.Status, item.PublishedAt, data, draft)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SaveItemDraft(ctx context.Context, siteID, itemID string, draft map[string]any) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_items SET draft=$3, updated_at=NOW() WHERE site_id=$1 AND id=$2
	`, siteID, itemID, raw)
	if err != nil {
		return fmt.Errorf("save item draft: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteItemDraft(ctx context.Context, siteID, itemID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE content_items SET draft=NULL, updated_at=NOW() WHERE site_id=$1 AND id=$2
	`, siteID, itemID)
	if err != nil {
		return fmt.Errorf("delete item draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, siteID, itemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE site_id=$1 AND id=$2`, siteID, itemID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// BatchUpdateItems writes every row inside one transaction so a batch
// either applies whole or not at all.
func (s *PostgresStore) BatchUpdateItems(ctx context.Context, items []ContentItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch update: %w", err)
	}
	for _, item := range items {
		data, draft, err := marshalItemJSON(item)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE content_items
			SET title=$3, slug=$4, seo_title=$5, seo_description=$6, og_image=$7,
				status=$8, published_at=$9, data=$10, draft=$11, updated_at=NOW()
			WHERE site_id=$1 AND id=$2
		`, item.SiteID, item.ID, item.Title, item.Slug, item.SeoTitle, item.SeoDescription,
			item.OGImage, item.Status, item.PublishedAt, data, draft)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("batch update item %s: %w", item.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_ = tx.Rollback()
			return fmt.Errorf("batch update item %s: %w", item.ID, sql.ErrNoRows)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch update: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTrainingSource(ctx context.Context, src TrainingSource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_sources (id, site_id, type, title, content, source_url, object_key, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, src.ID, src.SiteID, src.Type, src.Title, src.Content, src.SourceURL, src.ObjectKey, src.SizeBytes, src.Status)
	if err != nil {
		return fmt.Errorf("insert training source: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTrainingSource(ctx context.Context, siteID, sourceID string) (TrainingSource, error) {
	var src TrainingSource
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, type, title, content, source_url, object_key, size_bytes, status, created_at, updated_at
		FROM training_sources WHERE site_id=$1 AND id=$2
	`, siteID, sourceID).Scan(&src.ID, &src.SiteID, &src.Type, &src.Title, &src.Content,
		&src.SourceURL, &src.ObjectKey, &src.SizeBytes, &src.Status, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return TrainingSource{}, err
	}
	return src, nil
}

func (s *PostgresStore) ListTrainingSources(ctx context.Context, siteID string) ([]TrainingSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, type, title, content, source_url, object_key, size_bytes, status, created_at, updated_at
		FROM training_sources WHERE site_id=$1
		ORDER BY created_at DESC
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list training sources: %w", err)
	}
	defer rows.Close()

	items := make([]TrainingSource, 0)
	for rows.Next() {
		var src TrainingSource
		if err := rows.Scan(&src.ID, &src.SiteID, &src.Type, &src.Title, &src.Content,
			&src.SourceURL, &src.ObjectKey, &src.SizeBytes, &src.Status, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan training source: %w", err)
		}
		items = append(items, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training sources: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteTrainingSource(ctx context.Context, siteID, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM training_sources WHERE site_id=$1 AND id=$2`, siteID, sourceID)
	if err != nil {
		return fmt.Errorf("delete training source: %w", err)
	}
	return nil
}

// TrainingUsage sums the stored bytes of every source on the site.
func (s *PostgresStore) TrainingUsage(ctx context.Context, siteID string) (int64, error) {
	var usage int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(size_bytes), 0) FROM training_sources WHERE site_id=$1
	`, siteID).Scan(&usage)
	if err != nil {
		return 0, fmt.Errorf("training usage: %w", err)
	}
	return usage, nil
}

func (s *PostgresStore) InsertChatbot(ctx context.Context, bot Chatbot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chatbots (id, site_id, name, model, system_prompt)
		VALUES ($1, $2, $3, $4, $5)
	`, bot.ID, bot.SiteID, bot.Name, bot.Model, bot.SystemPrompt)
	if err != nil {
		return fmt.Errorf("insert chatbot: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChatbots(ctx context.Context, siteID string) ([]Chatbot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, name, model, system_prompt, created_at, updated_at
		FROM chatbots WHERE site_id=$1
		ORDER BY created_at
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list chatbots: %w", err)
	}
	defer rows.Close()

	items := make([]Chatbot, 0)
	for rows.Next() {
		var bot Chatbot
		if err := rows.Scan(&bot.ID, &bot.SiteID, &bot.Name, &bot.Model, &bot.SystemPrompt, &bot.CreatedAt, &bot.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chatbot: %w", err)
		}
		items = append(items, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chatbots: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (ContentItem, error) {
	var item ContentItem
	var data, draft []byte
	err := row.Scan(&item.ID, &item.SiteID, &item.CollectionID, &item.Title, &item.Slug,
		&item.SeoTitle, &item.SeoDescription, &item.OGImage, &item.Status, &item.PublishedAt,
		&data, &draft, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return ContentItem{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &item.Data); err != nil {
			return ContentItem{}, fmt.Errorf("decode item data: %w", err)
		}
	}
	if len(draft) > 0 {
		if err := json.Unmarshal(draft, &item.Draft); err != nil {
			return ContentItem{}, fmt.Errorf("decode item draft: %w", err)
		}
	}
	return item, nil
}

func marshalItemJSON(item ContentItem) (data, draft []byte, err error) {
	values := item.Data
	if values == nil {
		values = map[string]any{}
	}
	data, err = json.Marshal(values)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal item data: %w", err)
	}
	if item.Draft != nil {
		draft, err = json.Marshal(item.Draft)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal item draft: %w", err)
		}
	}
	return data, draft, nil
}
