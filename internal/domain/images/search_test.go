package images

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeCatalog 固定返回预置记录。
type fakeCatalog struct {
	records      []Record
	err          error
	lastCategory string
	lastLimit    int
}

func (f *fakeCatalog) ListActive(ctx context.Context, category string, limit int) ([]Record, error) {
	f.lastCategory = category
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if category == "" {
		return f.records, nil
	}
	var out []Record
	for _, r := range f.records {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeTasker 按指令前缀路由到固定回答。
type fakeTasker struct {
	category string
	keywords string
	err      error
}

func (f *fakeTasker) TextTask(ctx context.Context, instruction, input string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if strings.HasPrefix(instruction, "Classify") {
		return f.category, nil
	}
	return f.keywords, nil
}

func TestSearchScoresAndSorts(t *testing.T) {
	catalog := &fakeCatalog{records: []Record{
		{ID: "1", Caption: "รถยนต์ สีแดง", Tags: []string{"car"}},
		{ID: "2", Caption: "โปรโมชั่น รถยนต์ ราคาพิเศษ", ExtractedText: "รถยนต์ ลดราคา"},
		{ID: "3", Caption: "อาหารกลางวัน"},
	}}
	tasker := &fakeTasker{category: "none", keywords: "รถยนต์"}

	s := NewSearcher(catalog, tasker, DefaultConfig())
	got, err := s.Search(context.Background(), "รถยนต์", Options{MaxResults: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected all candidates returned (zero-score included), got %d", len(got))
	}

	// 1: caption 含整串查询 +10，关键词 +3，tag 不含泰文查询但也不含关键词 → 13
	// 2: caption +10+3, extracted +8+2 → 23
	// 3: 0 分也要返回，排最后
	if got[0].ID != "2" || got[1].ID != "1" || got[2].ID != "3" {
		t.Fatalf("unexpected order: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[0].Score != 23 {
		t.Errorf("expected top score 23, got %d", got[0].Score)
	}
	if got[2].Score != 0 {
		t.Errorf("expected zero score for unrelated image, got %d", got[2].Score)
	}
}

func TestSearchTruncatesToMaxResults(t *testing.T) {
	catalog := &fakeCatalog{records: []Record{
		{ID: "1", Caption: "แมว"}, {ID: "2", Caption: "แมว"}, {ID: "3", Caption: "แมว"},
	}}
	s := NewSearcher(catalog, &fakeTasker{category: "none"}, DefaultConfig())

	got, err := s.Search(context.Background(), "แมว", Options{MaxResults: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(got))
	}
}

func TestSearchUsesClassifiedCategory(t *testing.T) {
	catalog := &fakeCatalog{records: []Record{
		{ID: "1", Category: "promotion", Caption: "ส่วนลด"},
		{ID: "2", Category: "product", Caption: "ส่วนลด"},
	}}
	tasker := &fakeTasker{category: "Promotion"}

	s := NewSearcher(catalog, tasker, DefaultConfig())
	got, err := s.Search(context.Background(), "ส่วนลด", Options{MaxResults: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if catalog.lastCategory != "promotion" {
		t.Fatalf("expected classified category filter, got %q", catalog.lastCategory)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("expected only promotion images, got %+v", got)
	}
}

// 分类失败不过滤类目，关键词失败按空列表继续。
func TestSearchDegradesOnClassifierFailure(t *testing.T) {
	catalog := &fakeCatalog{records: []Record{{ID: "1", Caption: "สินค้า"}}}
	tasker := &fakeTasker{err: errors.New("model unavailable")}

	s := NewSearcher(catalog, tasker, DefaultConfig())
	got, err := s.Search(context.Background(), "สินค้า", Options{MaxResults: 5})
	if err != nil {
		t.Fatalf("expected degraded search to succeed, got %v", err)
	}
	if catalog.lastCategory != "" {
		t.Errorf("expected no category filter on classifier failure, got %q", catalog.lastCategory)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
}

func TestSearchExplicitCategorySkipsClassifier(t *testing.T) {
	catalog := &fakeCatalog{records: []Record{{ID: "1", Category: "product", Caption: "สินค้า"}}}
	tasker := &fakeTasker{category: "promotion"}

	s := NewSearcher(catalog, tasker, DefaultConfig())
	if _, err := s.Search(context.Background(), "สินค้า", Options{MaxResults: 5, Category: "product"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if catalog.lastCategory != "product" {
		t.Fatalf("expected caller-supplied category, got %q", catalog.lastCategory)
	}
}

func TestSearchCatalogError(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("db down")}
	s := NewSearcher(catalog, nil, DefaultConfig())
	if _, err := s.Search(context.Background(), "q", Options{}); err == nil {
		t.Fatal("expected error when catalog fails")
	}
}
