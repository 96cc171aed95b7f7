package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"linguaweave/internal/domain/images"
)

// ImageRepository PostgreSQL 图片目录存储。
type ImageRepository struct {
	db *sql.DB
}

// NewImageRepository 创建图片目录存储。
func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// EnsureTable 确保图片目录表存在。
func (r *ImageRepository) EnsureTable(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS images (
		id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		category       VARCHAR(64) NOT NULL,
		storage_url    TEXT NOT NULL,
		caption        TEXT,
		extracted_text TEXT,
		tags           TEXT[] NOT NULL DEFAULT '{}',
		is_active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_images_category_active ON images(category, is_active);
	`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// ListActive 按类目取活跃图片；category 为空时取全部类目。limit 为行数上限。
func (r *ImageRepository) ListActive(ctx context.Context, category string, limit int) ([]images.Record, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT id, category, storage_url,
		       COALESCE(caption, ''), COALESCE(extracted_text, ''), tags
		FROM images
		WHERE is_active = TRUE`
	args := []interface{}{}
	if category != "" {
		query += ` AND category = $1`
		args = append(args, category)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var records []images.Record
	for rows.Next() {
		var rec images.Record
		var tags pq.StringArray
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.StorageURL, &rec.Caption, &rec.ExtractedText, &tags); err != nil {
			return nil, fmt.Errorf("scan image row: %w", err)
		}
		rec.Tags = []string(tags)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image rows: %w", err)
	}
	return records, nil
}
