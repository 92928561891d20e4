package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kevbot123/spool-sub000/internal/auth"
	"github.com/kevbot123/spool-sub000/internal/content"
	"github.com/kevbot123/spool-sub000/internal/crawl"
	"github.com/kevbot123/spool-sub000/internal/ingest"
	"github.com/kevbot123/spool-sub000/internal/rbac"
	"github.com/kevbot123/spool-sub000/internal/search"
	"github.com/kevbot123/spool-sub000/internal/session"
	"github.com/kevbot123/spool-sub000/internal/training"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      sess.UserName,
			"userId":        sess.UserID,
			"role":          sess.Role,
			"siteId":        sess.SiteID,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(sess))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/sites" {
		switch r.Method {
		case http.MethodGet:
			sites, err := s.service.ListSites(r.Context(), sess.UserID)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
			return
		case http.MethodPost:
			var body struct {
				Name      string `json:"name"`
				Subdomain string `json:"subdomain"`
				Plan      string `json:"plan"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			site, err := s.service.CreateSite(r.Context(), sess.UserID, body.Name, body.Subdomain, body.Plan)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, site)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		s.handleSearch(w, r, sess)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/connections/") {
		s.handleConnections(w, r, sess)
		return
	}

	if r.URL.Path == "/api/crawl" {
		s.handleCrawl(w, r, sess)
		return
	}

	if r.URL.Path == "/api/training-sources" {
		s.handleTrainingSources(w, r, sess)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/training-usage" {
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		quota, err := s.service.TrainingQuota(r.Context(), sess.SiteID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, quota)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/import-rss" {
		if !s.service.Can(sess.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		var body struct {
			FeedURL string `json:"feedUrl"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sources, err := s.service.ImportRSS(r.Context(), sess.SiteID, body.FeedURL)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sources": sources, "count": len(sources)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/import-youtube" {
		if !s.service.Can(sess.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		var body struct {
			VideoURL string `json:"videoUrl"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		src, err := s.service.ImportYouTube(r.Context(), sess.SiteID, body.VideoURL)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, src)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/upload-file" {
		if !s.service.Can(sess.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file part is required", nil)
			return
		}
		defer file.Close()
		src, err := s.service.UploadTrainingFile(r.Context(), sess.SiteID, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, src)
		return
	}

	if r.URL.Path == "/api/chatbots" {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(sess.Role, rbac.ActionRead) {
				s.forbid(w)
				return
			}
			bots, err := s.service.ListChatbots(r.Context(), sess.SiteID)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"chatbots": bots})
			return
		case http.MethodPost:
			if !s.service.Can(sess.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			var body struct {
				Name         string `json:"name"`
				Model        string `json:"model"`
				SystemPrompt string `json:"systemPrompt"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			bot, err := s.service.CreateChatbot(r.Context(), sess.SiteID, body.Name, body.Model, body.SystemPrompt)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, bot)
			return
		}
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "admin" && parts[2] == "collections" {
		s.handleCollections(w, r, sess, parts)
		return
	}

	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "admin" && parts[2] == "content" {
		s.handleContent(w, r, sess, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess Session) {
	query := search.Query{
		Text:             strings.TrimSpace(r.URL.Query().Get("q")),
		FilterType:       search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
		FilterCollection: strings.TrimSpace(r.URL.Query().Get("collection")),
		Limit:            20,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		query.Limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		query.Offset = parsed
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), sess.SiteID, query))
}

func (s *HTTPServer) handleConnections(w http.ResponseWriter, r *http.Request, sess Session) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/connections/track":
		var body struct {
			ClientID string `json:"clientId"`
			Page     string `json:"page"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.TrackConnection(r.Context(), sess.SiteID, body.ClientID, body.Page, r.UserAgent(), r.RemoteAddr); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodPost && r.URL.Path == "/api/connections/heartbeat":
		var body struct {
			ClientID string `json:"clientId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.HeartbeatConnection(r.Context(), sess.SiteID, body.ClientID); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodPost && r.URL.Path == "/api/connections/disconnect":
		var body struct {
			ClientID string `json:"clientId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.DisconnectConnection(r.Context(), sess.SiteID, body.ClientID); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && r.URL.Path == "/api/connections/active":
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		active, err := s.service.ActiveConnections(r.Context(), sess.SiteID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"connections": active, "count": len(active)})

	case r.Method == http.MethodGet && r.URL.Path == "/api/connections/stats":
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		stats, err := s.service.ConnectionStats(r.Context(), sess.SiteID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case r.Method == http.MethodPost && r.URL.Path == "/api/connections/cleanup":
		if !s.service.Can(sess.Role, rbac.ActionManage) {
			s.forbid(w)
			return
		}
		removed, err := s.service.CleanupConnections(r.Context(), sess.SiteID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCrawl(w http.ResponseWriter, r *http.Request, sess Session) {
	switch r.Method {
	case http.MethodPost:
		if !s.service.Can(sess.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		var body struct {
			URL string `json:"url"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		job, err := s.service.StartCrawl(r.Context(), sess.SiteID, body.URL)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)

	case http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
		if jobID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "jobId is required", nil)
			return
		}
		job, err := s.service.GetCrawl(r.Context(), sess.SiteID, jobID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)

	case http.MethodPut:
		if !s.service.Can(sess.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
		if jobID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "jobId is required", nil)
			return
		}
		sources, err := s.service.CommitCrawl(r.Context(), sess.SiteID, jobID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sources": sources, "count": len(sources)})

	case http.MethodDelete:
		if !s.service.Can(sess.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
		if jobID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "jobId is required", nil)
			return
		}
		job, err := s.service.CancelCrawl(r.Context(), sess.SiteID, jobID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleTrainingSources(w http.ResponseWriter, r *http.Request, sess Session) {
	switch r.Method {
	case http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		sources, err := s.service.ListTrainingSources(r.Context(), sess.SiteID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		quota, err := s.service.TrainingQuota(r.Context(), sess.SiteID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "usage": quota})

	case http.MethodPost:
		if !s.service.Can(sess.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		var body TrainingSourceInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		src, err := s.service.AddTrainingSource(r.Context(), sess.SiteID, body)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, src)

	case http.MethodDelete:
		if !s.service.Can(sess.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		sourceID := strings.TrimSpace(r.URL.Query().Get("id"))
		if sourceID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id is required", nil)
			return
		}
		if err := s.service.DeleteTrainingSource(r.Context(), sess.SiteID, sourceID); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleCollections(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(sess.Role, rbac.ActionRead) {
				s.forbid(w)
				return
			}
			cols, err := s.service.ListCollections(r.Context(), sess.SiteID)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"collections": cols})
			return
		case http.MethodPost:
			if !s.service.Can(sess.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			var body CollectionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			col, err := s.service.CreateCollection(r.Context(), sess.SiteID, body)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, col)
			return
		}
	}

	if len(parts) == 4 {
		slug := parts[3]
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(sess.Role, rbac.ActionRead) {
				s.forbid(w)
				return
			}
			col, err := s.service.GetCollection(r.Context(), sess.SiteID, slug)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, col)
			return
		case http.MethodPut:
			if !s.service.Can(sess.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			var body CollectionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			col, err := s.service.UpdateCollection(r.Context(), sess.SiteID, slug, body)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, col)
			return
		case http.MethodDelete:
			if !s.service.Can(sess.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteCollection(r.Context(), sess.SiteID, slug); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleContent(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	collectionSlug := parts[3]

	// /api/admin/content/{collection}
	if len(parts) == 4 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(sess.Role, rbac.ActionRead) {
				s.forbid(w)
				return
			}
			items, err := s.service.ListCollectionItems(r.Context(), sess.SiteID, collectionSlug)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
			return
		case http.MethodPost:
			if !s.service.Can(sess.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var body ItemInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.CreateItem(r.Context(), sess.SiteID, collectionSlug, body)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, item)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	// /api/admin/content/{collection}/batch
	if len(parts) == 5 && parts[4] == "batch" && r.Method == http.MethodPost {
		if !s.service.Can(sess.Role, rbac.ActionPublish) {
			s.forbid(w)
			return
		}
		var body struct {
			Action string `json:"action"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		items, err := s.service.BatchContent(r.Context(), sess, collectionSlug, body.Action)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
		return
	}

	// /api/admin/content/{collection}/export
	if len(parts) == 5 && parts[4] == "export" && r.Method == http.MethodGet {
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		format := strings.TrimSpace(r.URL.Query().Get("format"))
		filename, contentType, payload, err := s.service.ExportItems(r.Context(), sess.SiteID, collectionSlug, format)
		if err != nil {
			writeMapped(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	// /api/admin/content/{collection}/{item}
	if len(parts) == 5 {
		itemID := parts[4]
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(sess.Role, rbac.ActionRead) {
				s.forbid(w)
				return
			}
			item, err := s.service.GetContentItem(r.Context(), sess.SiteID, collectionSlug, itemID)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
			return
		case http.MethodPut:
			if !s.service.Can(sess.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var patch map[string]any
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if status, ok := patch["status"].(string); ok && status == string(content.StatusPublished) {
				if !s.service.Can(sess.Role, rbac.ActionPublish) {
					s.forbid(w)
					return
				}
			}
			item, err := s.service.PatchItem(r.Context(), sess, collectionSlug, itemID, patch)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
			return
		case http.MethodDelete:
			if !s.service.Can(sess.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteContentItem(r.Context(), sess.SiteID, collectionSlug, itemID); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	// /api/admin/content/{collection}/{item}/...
	if len(parts) >= 6 {
		itemID := parts[4]
		switch parts[5] {
		case "draft":
			switch r.Method {
			case http.MethodPost:
				if !s.service.Can(sess.Role, rbac.ActionWrite) {
					s.forbid(w)
					return
				}
				var body ItemInput
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				item, err := s.service.SaveDraftNow(r.Context(), sess.SiteID, collectionSlug, itemID, body)
				if err != nil {
					writeMapped(w, err)
					return
				}
				writeJSON(w, http.StatusOK, item)
				return
			case http.MethodDelete:
				if !s.service.Can(sess.Role, rbac.ActionWrite) {
					s.forbid(w)
					return
				}
				item, err := s.service.DiscardDraft(r.Context(), sess.SiteID, collectionSlug, itemID)
				if err != nil {
					writeMapped(w, err)
					return
				}
				writeJSON(w, http.StatusOK, item)
				return
			}
		case "publish":
			if r.Method == http.MethodPost {
				if !s.service.Can(sess.Role, rbac.ActionPublish) {
					s.forbid(w)
					return
				}
				item, err := s.service.PublishItem(r.Context(), sess, collectionSlug, itemID)
				if err != nil {
					writeMapped(w, err)
					return
				}
				writeJSON(w, http.StatusOK, item)
				return
			}
		case "unpublish":
			if r.Method == http.MethodPost {
				if !s.service.Can(sess.Role, rbac.ActionPublish) {
					s.forbid(w)
					return
				}
				item, err := s.service.UnpublishItem(r.Context(), sess.SiteID, collectionSlug, itemID)
				if err != nil {
					writeMapped(w, err)
					return
				}
				writeJSON(w, http.StatusOK, item)
				return
			}
		case "revisions":
			if r.Method == http.MethodGet && len(parts) == 6 {
				if !s.service.Can(sess.Role, rbac.ActionRead) {
					s.forbid(w)
					return
				}
				history, err := s.service.ItemRevisions(r.Context(), sess.SiteID, collectionSlug, itemID, 50)
				if err != nil {
					writeMapped(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"revisions": history})
				return
			}
			if r.Method == http.MethodGet && len(parts) == 7 {
				if !s.service.Can(sess.Role, rbac.ActionRead) {
					s.forbid(w)
					return
				}
				snapshot, err := s.service.ItemRevisionSnapshot(r.Context(), sess.SiteID, collectionSlug, itemID, parts[6])
				if err != nil {
					writeMapped(w, err)
					return
				}
				writeJSON(w, http.StatusOK, snapshot)
				return
			}
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		SiteName    string `json:"siteName"`
		Subdomain   string `json:"subdomain"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	sess, err := s.service.SignUp(r.Context(), SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		SiteName:    body.SiteName,
		Subdomain:   body.Subdomain,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			writeMapped(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(sess))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		SiteID   string `json:"siteId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	sess, err := s.service.SignIn(r.Context(), body.Email, body.Password, body.SiteID)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"accessToken":  sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"userName":     sess.UserName,
		"role":         sess.Role,
		"siteId":       sess.SiteID,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMapped(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *content.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(),
			map[string]any{"field": validationErr.Field, "reason": validationErr.Reason}
	}
	var quotaErr *training.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return http.StatusRequestEntityTooLarge, "QUOTA_EXCEEDED", "Training data quota exceeded", quotaErr
	}
	var rateErr *ingest.RateLimitError
	if errors.As(err, &rateErr) {
		return http.StatusTooManyRequests, "RATE_LIMITED", "Too many RSS imports",
			map[string]any{"rateLimited": true, "resetTime": rateErr.ResetTime.Format(time.RFC3339)}
	}
	if errors.Is(err, content.ErrUnknownItem) || errors.Is(err, crawl.ErrJobNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
