package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"linguaweave/internal/domain/cache"
	applog "linguaweave/internal/platform/log"
)

// AdminHandler 缓存管理接口（内容更新后手工失效）
type AdminHandler struct {
	translations *cache.Translation
	searches     *cache.Search
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(translations *cache.Translation, searches *cache.Search) *AdminHandler {
	return &AdminHandler{translations: translations, searches: searches}
}

// RegisterRoutes 注册路由
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/admin/cache/stats", h.Stats)
	r.Delete("/v1/admin/cache/search", h.InvalidateSearch)
	r.Delete("/v1/admin/cache/translation", h.PurgeTranslation)
}

// Stats GET /v1/admin/cache/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"translation_entries": h.translations.Len(),
		"search_entries":      h.searches.Len(),
	})
}

// InvalidateSearch DELETE /v1/admin/cache/search
// 知识库内容更新后清空两层检索结果缓存。
func (h *AdminHandler) InvalidateSearch(w http.ResponseWriter, r *http.Request) {
	principal := MustPrincipalFrom(r.Context())

	if err := h.searches.Invalidate(r.Context()); err != nil {
		applog.Error("[API/Admin] Search cache invalidation failed", "subject", principal.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to invalidate search cache")
		return
	}

	applog.Info("[API/Admin] Search cache invalidated", "subject", principal.Subject)
	writeJSON(w, http.StatusOK, map[string]string{"result": "invalidated"})
}

// PurgeTranslation DELETE /v1/admin/cache/translation
func (h *AdminHandler) PurgeTranslation(w http.ResponseWriter, r *http.Request) {
	principal := MustPrincipalFrom(r.Context())

	h.translations.Purge()

	applog.Info("[API/Admin] Translation cache purged", "subject", principal.Subject)
	writeJSON(w, http.StatusOK, map[string]string{"result": "purged"})
}
