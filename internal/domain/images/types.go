// Package images 实现图片目录上的关键词相关性检索。
package images

import "context"

// Record 图片目录行。
type Record struct {
	ID            string   `json:"id"`
	Category      string   `json:"category"`
	StorageURL    string   `json:"storage_url"`
	Caption       string   `json:"caption,omitempty"`
	ExtractedText string   `json:"extracted_text,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// Scored 单次检索期间的打分结果，不落库。
type Scored struct {
	Record
	Score int `json:"score"`
}

// Catalog 图片目录存储契约：按类目（可为空 = 全部）取活跃图片，带行数上限。
type Catalog interface {
	ListActive(ctx context.Context, category string, limit int) ([]Record, error)
}
