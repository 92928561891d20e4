package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kevbot123/spool-sub000/internal/auth"
	"github.com/kevbot123/spool-sub000/internal/authpw"
	"github.com/kevbot123/spool-sub000/internal/config"
	"github.com/kevbot123/spool-sub000/internal/connections"
	"github.com/kevbot123/spool-sub000/internal/content"
	"github.com/kevbot123/spool-sub000/internal/crawl"
	"github.com/kevbot123/spool-sub000/internal/export"
	"github.com/kevbot123/spool-sub000/internal/ingest"
	"github.com/kevbot123/spool-sub000/internal/rbac"
	"github.com/kevbot123/spool-sub000/internal/revisions"
	"github.com/kevbot123/spool-sub000/internal/search"
	"github.com/kevbot123/spool-sub000/internal/session"
	"github.com/kevbot123/spool-sub000/internal/store"
	"github.com/kevbot123/spool-sub000/internal/training"
	"github.com/kevbot123/spool-sub000/internal/util"
)

// Session is the authenticated caller context. Every session is scoped to
// exactly one site; operating on another site requires signing in again.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	SiteID       string
	ExpiresAt    time.Time
}

// dataStore lists every store method the service uses, so tests can swap in
// an in-memory fake.
type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)

	CreateSite(ctx context.Context, site store.Site, ownerID string) error
	GetSite(ctx context.Context, siteID string) (store.Site, error)
	ListSitesForUser(ctx context.Context, userID string) ([]store.Site, error)
	UpsertMembership(ctx context.Context, siteID, userID, role string) error
	GetRole(ctx context.Context, siteID, userID string) (string, error)

	InsertCollection(ctx context.Context, col store.Collection) error
	UpdateCollection(ctx context.Context, col store.Collection) error
	GetCollectionBySlug(ctx context.Context, siteID, slug string) (store.Collection, error)
	ListCollections(ctx context.Context, siteID string) ([]store.Collection, error)
	DeleteCollection(ctx context.Context, siteID, slug string) error

	InsertItem(ctx context.Context, item store.ContentItem) error
	GetItem(ctx context.Context, siteID, itemID string) (store.ContentItem, error)
	ListItems(ctx context.Context, siteID, collectionID string) ([]store.ContentItem, error)
	UpdateItem(ctx context.Context, item store.ContentItem) error
	SaveItemDraft(ctx context.Context, siteID, itemID string, draft map[string]any) error
	DeleteItemDraft(ctx context.Context, siteID, itemID string) error
	DeleteItem(ctx context.Context, siteID, itemID string) error
	BatchUpdateItems(ctx context.Context, items []store.ContentItem) error

	InsertTrainingSource(ctx context.Context, src store.TrainingSource) error
	GetTrainingSource(ctx context.Context, siteID, sourceID string) (store.TrainingSource, error)
	ListTrainingSources(ctx context.Context, siteID string) ([]store.TrainingSource, error)
	DeleteTrainingSource(ctx context.Context, siteID, sourceID string) error
	TrainingUsage(ctx context.Context, siteID string) (int64, error)

	InsertChatbot(ctx context.Context, bot store.Chatbot) error
	ListChatbots(ctx context.Context, siteID string) ([]store.Chatbot, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type revisionLog interface {
	CommitSnapshot(siteID, collection, itemID string, payload map[string]any, author, message string) (revisions.CommitInfo, error)
	History(siteID, collection, itemID string, limit int) ([]revisions.CommitInfo, error)
	GetSnapshot(siteID, collection, itemID, hash string) (map[string]any, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexItem(rec search.ItemRecord)
	IndexSource(rec search.SourceRecord)
	DeleteItem(id string)
	DeleteSource(id string)
}

// Deps carries the optional infrastructure. Nil members disable the
// corresponding feature instead of failing startup.
type Deps struct {
	Sessions   sessionStore
	Revisions  revisionLog
	Search     searchIndex
	Tracker    *connections.Tracker
	Crawler    *crawl.Manager
	Objects    *ingest.ObjectStore
	RSSLimiter *ingest.RateLimiter
	YouTube    *ingest.YouTubeClient
	HTTPClient *http.Client
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	revisions  revisionLog
	search     searchIndex
	tracker    *connections.Tracker
	crawler    *crawl.Manager
	objects    *ingest.ObjectStore
	rssLimiter *ingest.RateLimiter
	youtube    *ingest.YouTubeClient
	httpClient *http.Client
	authpw     *authpw.Service
	training   *training.Service

	mu      sync.Mutex
	engines map[string]*collectionRuntime
}

func New(cfg config.Config, db dataStore, deps Deps) *Service {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{
		cfg:        cfg,
		store:      db,
		sessions:   deps.Sessions,
		revisions:  deps.Revisions,
		search:     deps.Search,
		tracker:    deps.Tracker,
		crawler:    deps.Crawler,
		objects:    deps.Objects,
		rssLimiter: deps.RSSLimiter,
		youtube:    deps.YouTube,
		httpClient: client,
		authpw:     authpw.NewService(db),
		training:   training.NewService(db),
		engines:    make(map[string]*collectionRuntime),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// --- Sessions ---

// SignUpRequest creates the user and, when a site name is given, their
// first site with an owner membership.
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
	SiteName    string
	Subdomain   string
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (Session, error) {
	user, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return Session{}, err
	}

	siteName := strings.TrimSpace(req.SiteName)
	if siteName == "" {
		siteName = user.DisplayName
	}
	site, err := s.CreateSite(ctx, user.ID, siteName, req.Subdomain, "free")
	if err != nil {
		return Session{}, err
	}
	return s.createSession(ctx, user, site.ID, "owner")
}

// SignIn authenticates and scopes the session to one of the user's sites.
// An empty siteID picks the user's first site.
func (s *Service) SignIn(ctx context.Context, email, password, siteID string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}

	if siteID == "" {
		sites, err := s.store.ListSitesForUser(ctx, user.ID)
		if err != nil {
			return Session{}, fmt.Errorf("list sites: %w", err)
		}
		if len(sites) == 0 {
			return Session{}, domainError(http.StatusForbidden, "NO_SITE", "User has no site", nil)
		}
		siteID = sites[0].ID
	}

	role, err := s.store.GetRole(ctx, siteID, user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("get role: %w", err)
	}
	if role == "" {
		return Session{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this site", nil)
	}
	return s.createSession(ctx, user, siteID, role)
}

func (s *Service) createSession(ctx context.Context, user store.User, siteID, role string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Role:   role,
		SiteID: siteID,
		JTI:    util.NewID("jti"),
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	sess := Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      role,
		SiteID:    siteID,
		ExpiresAt: expiresAt,
	}
	if s.sessions == nil {
		return sess, nil
	}

	refresh := randomToken()
	data := session.TokenData{UserID: user.ID, SiteID: siteID, Role: role, CreatedAt: now}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), data, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}
	sess.RefreshToken = refresh
	return sess, nil
}

// Refresh rotates the refresh token: the old one is revoked before the new
// session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "SESSIONS_UNAVAILABLE", "Refresh sessions are not configured", nil)
	}
	hash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, fmt.Errorf("get user: %w", err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.createSession(ctx, user, data.SiteID, data.Role)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s.sessions == nil || refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		SiteID:    claims.SiteID,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// --- Sites ---

func (s *Service) CreateSite(ctx context.Context, ownerID, name, subdomain, plan string) (store.Site, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Site{}, &content.ValidationError{Field: "name", Reason: "value is required"}
	}
	if subdomain == "" {
		subdomain = util.Slugify(name)
	}
	if plan == "" {
		plan = "free"
	}
	site := store.Site{
		ID:        util.NewID("site"),
		Name:      name,
		Subdomain: subdomain,
		Plan:      plan,
	}
	if err := s.store.CreateSite(ctx, site, ownerID); err != nil {
		return store.Site{}, fmt.Errorf("create site: %w", err)
	}
	return site, nil
}

func (s *Service) ListSites(ctx context.Context, userID string) ([]store.Site, error) {
	return s.store.ListSitesForUser(ctx, userID)
}

// --- Collections ---

type CollectionInput struct {
	Slug       string                `json:"slug"`
	Name       string                `json:"name"`
	URLPattern string                `json:"urlPattern"`
	Fields     []content.FieldConfig `json:"fields"`
}

func (s *Service) CreateCollection(ctx context.Context, siteID string, in CollectionInput) (store.Collection, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return store.Collection{}, &content.ValidationError{Field: "name", Reason: "value is required"}
	}
	slug := in.Slug
	if slug == "" {
		slug = util.Slugify(name)
	}
	if _, err := content.NewCollectionConfig(slug, name, in.URLPattern, in.Fields); err != nil {
		return store.Collection{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	fieldsJSON, err := json.Marshal(in.Fields)
	if err != nil {
		return store.Collection{}, fmt.Errorf("encode fields: %w", err)
	}
	col := store.Collection{
		ID:         util.NewID("col"),
		SiteID:     siteID,
		Slug:       slug,
		Name:       name,
		URLPattern: in.URLPattern,
		Fields:     fieldsJSON,
	}
	if err := s.store.InsertCollection(ctx, col); err != nil {
		return store.Collection{}, fmt.Errorf("insert collection: %w", err)
	}
	return col, nil
}

func (s *Service) UpdateCollection(ctx context.Context, siteID, slug string, in CollectionInput) (store.Collection, error) {
	col, err := s.store.GetCollectionBySlug(ctx, siteID, slug)
	if err != nil {
		return store.Collection{}, err
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		col.Name = name
	}
	if in.URLPattern != "" {
		col.URLPattern = in.URLPattern
	}
	if in.Fields != nil {
		if _, err := content.NewCollectionConfig(col.Slug, col.Name, col.URLPattern, in.Fields); err != nil {
			return store.Collection{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		}
		fieldsJSON, err := json.Marshal(in.Fields)
		if err != nil {
			return store.Collection{}, fmt.Errorf("encode fields: %w", err)
		}
		col.Fields = fieldsJSON
	}
	if err := s.store.UpdateCollection(ctx, col); err != nil {
		return store.Collection{}, fmt.Errorf("update collection: %w", err)
	}
	s.dropRuntime(siteID, slug)
	return col, nil
}

func (s *Service) GetCollection(ctx context.Context, siteID, slug string) (store.Collection, error) {
	return s.store.GetCollectionBySlug(ctx, siteID, slug)
}

func (s *Service) ListCollections(ctx context.Context, siteID string) ([]store.Collection, error) {
	return s.store.ListCollections(ctx, siteID)
}

func (s *Service) DeleteCollection(ctx context.Context, siteID, slug string) error {
	if err := s.store.DeleteCollection(ctx, siteID, slug); err != nil {
		return err
	}
	s.dropRuntime(siteID, slug)
	return nil
}

// --- Collection runtimes ---

// collectionRuntime is one collection's live editing state: schema, the
// debounced persistence gateway, and the reconciliation engine seeded from
// the store.
type collectionRuntime struct {
	collection store.Collection
	config     content.CollectionConfig
	persister  *storePersister
	scheduler  *content.TimerScheduler
	gateway    *content.Gateway
	engine     *content.Engine
	coord      *content.Coordinator
}

func (s *Service) runtime(ctx context.Context, siteID, slug string) (*collectionRuntime, error) {
	key := siteID + "/" + slug
	s.mu.Lock()
	if rt, ok := s.engines[key]; ok {
		s.mu.Unlock()
		return rt, nil
	}
	s.mu.Unlock()

	col, err := s.store.GetCollectionBySlug(ctx, siteID, slug)
	if err != nil {
		return nil, err
	}
	var fields []content.FieldConfig
	if len(col.Fields) > 0 {
		if err := json.Unmarshal(col.Fields, &fields); err != nil {
			return nil, fmt.Errorf("decode collection fields: %w", err)
		}
	}
	cfgC, err := content.NewCollectionConfig(col.Slug, col.Name, col.URLPattern, fields)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", slug, err)
	}

	persister := &storePersister{store: s.store, siteID: siteID, collectionID: col.ID}
	scheduler := content.NewTimerScheduler()
	gateway := content.NewGateway(persister, scheduler, s.cfg.AutosaveQuietWindow)
	engine := content.NewEngine(content.TenantContext{SiteID: siteID, Collection: col.Slug}, cfgC, persister, gateway)

	records, err := s.store.ListItems(ctx, siteID, col.ID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items := make([]content.Item, 0, len(records))
	for _, rec := range records {
		items = append(items, itemFromRecord(rec))
	}
	engine.Load(items)

	rt := &collectionRuntime{
		collection: col,
		config:     cfgC,
		persister:  persister,
		scheduler:  scheduler,
		gateway:    gateway,
		engine:     engine,
		coord:      content.NewCoordinator(engine, persister),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.engines[key]; ok {
		// Lost the construction race; the first runtime wins.
		scheduler.Stop()
		return existing, nil
	}
	s.engines[key] = rt
	return rt, nil
}

func (s *Service) dropRuntime(siteID, slug string) {
	key := siteID + "/" + slug
	s.mu.Lock()
	rt, ok := s.engines[key]
	delete(s.engines, key)
	s.mu.Unlock()
	if ok {
		rt.scheduler.Stop()
	}
}

// Close stops every runtime's autosave scheduler.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rt := range s.engines {
		rt.scheduler.Stop()
		delete(s.engines, key)
	}
}

// --- Items ---

type ItemInput struct {
	Title          string         `json:"title"`
	Slug           string         `json:"slug"`
	SeoTitle       string         `json:"seoTitle"`
	SeoDescription string         `json:"seoDescription"`
	OGImage        string         `json:"ogImage"`
	Data           map[string]any `json:"data"`
}

func (s *Service) CreateItem(ctx context.Context, siteID, collectionSlug string, in ItemInput) (content.Item, error) {
	rt, err := s.runtime(ctx, siteID, collectionSlug)
	if err != nil {
		return content.Item{}, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return content.Item{}, &content.ValidationError{Field: "title", Reason: "value is required"}
	}
	for name, value := range in.Data {
		fc, known := rt.config.Field(name)
		if !known {
			return content.Item{}, &content.ValidationError{Field: name, Reason: "unknown field"}
		}
		if err := fc.Validate(value); err != nil {
			return content.Item{}, err
		}
	}
	for _, fc := range rt.config.Fields {
		if fc.Required && in.Data[fc.Name] == nil {
			return content.Item{}, &content.ValidationError{Field: fc.Name, Reason: "value is required"}
		}
	}

	slug := in.Slug
	if slug == "" {
		slug = util.Slugify(title)
	}
	rec := store.ContentItem{
		ID:             util.NewID("item"),
		SiteID:         siteID,
		CollectionID:   rt.collection.ID,
		Title:          title,
		Slug:           slug,
		SeoTitle:       in.SeoTitle,
		SeoDescription: in.SeoDescription,
		OGImage:        in.OGImage,
		Status:         string(content.StatusDraft),
		Data:           in.Data,
	}
	if err := s.store.InsertItem(ctx, rec); err != nil {
		return content.Item{}, fmt.Errorf("insert item: %w", err)
	}
	it := itemFromRecord(rec)
	rt.engine.Upsert(it)
	s.indexItem(siteID, rt.collection.ID, it)
	return it, nil
}

func (s *Service) ListCollectionItems(ctx context.Context, siteID, collectionSlug string) ([]content.Item, error) {
	rt, err := s.runtime(ctx, siteID, collectionSlug)
	if err != nil {
		return nil, err
	}
	return rt.engine.Items(), nil
}

func (s *Service) GetContentItem(ctx context.Context, siteID, collectionSlug, itemID string) (content.Item, error) {
	rt, err := s.runtime(ctx, siteID, collectionSlug)
	if err != nil {
		return content.Item{}, err
	}
	it, ok := rt.engine.Item(itemID)
	if !ok {
		return content.Item{}, content.ErrUnknownItem
	}
	return it, nil
}

// PatchItem applies a partial update. Non-status fields route through the
// engine's edit path (immediate for drafts, overlay plus debounced autosave
// for published items); a status change runs the publish or unpublish flow.
func (s *Service) PatchItem(ctx context.Context, sess Session, collectionSlug, itemID string, patch map[string]any) (content.Item, error) {
	rt, err := s.runtime(ctx, sess.SiteID, collectionSlug)
	if err != nil {
		return content.Item{}, err
	}

	var it content.Item
	touched := false
	apply := func(field string, value any) error {
		updated, err := rt.engine.SetField(ctx, itemID, field, value)
		if err != nil {
			return err
		}
		it = updated
		touched = true
		return nil
	}

	for _, field := range []string{"title", "slug", "seoTitle", "seoDescription", "ogImage"} {
		if value, ok := patch[field]; ok {
			if err := apply(field, value); err != nil {
				return content.Item{}, err
			}
		}
	}
	if data, ok := patch["data"].(map[string]any); ok {
		for field, value := range data {
			if err := apply(field, value); err != nil {
				return content.Item{}, err
			}
		}
	}

	if raw, ok := patch["status"]; ok {
		status, _ := raw.(string)
		switch status {
		case string(content.StatusPublished):
			return s.publishRuntime(ctx, rt, sess, itemID)
		case string(content.StatusDraft):
			return s.unpublishRuntime(ctx, rt, itemID)
		default:
			return content.Item{}, &content.ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status %q", status)}
		}
	}

	if !touched {
		current, ok := rt.engine.Item(itemID)
		if !ok {
			return content.Item{}, content.ErrUnknownItem
		}
		it = current
	}
	return it, nil
}

// SaveDraftNow records the given fields as draft edits and flushes the
// autosave immediately instead of waiting out the quiet window.
func (s *Service) SaveDraftNow(ctx context.Context, siteID, collectionSlug, itemID string, in ItemInput) (content.Item, error) {
	rt, err := s.runtime(ctx, siteID, collectionSlug)
	if err != nil {
		return content.Item{}, err
	}
	set := func(field string, value any) error {
		_, err := rt.engine.SetField(ctx, itemID, field, value)
		return err
	}
	if in.Title != "" {
		if err := set("title", in.Title); err != nil {
			return content.Item{}, err
		}
	}
	if in.Slug != "" {
		if err := set("slug", in.Slug); err != nil {
			return content.Item{}, err
		}
	}
	if in.SeoTitle != "" {
		if err := set("seoTitle", in.SeoTitle); err != nil {
			return content.Item{}, err
		}
	}
	if in.SeoDescription != "" {
		if err := set("seoDescription", in.SeoDescription); err != nil {
			return content.Item{}, err
		}
	}
	if in.OGImage != "" {
		if err := set("ogImage", in.OGImage); err != nil {
			return content.Item{}, err
		}
	}
	for field, value := range in.Data {
		if err := set(field, value); err != nil {
			return content.Item{}, err
		}
	}
	rt.gateway.Flush(itemID)

	it, ok := rt.engine.Item(itemID)
	if !ok {
		return content.Item{}, content.ErrUnknownItem
	}
	return it, nil
}

// DiscardDraft drops every unconfirmed edit and reverts to the live record.
func (s *Service) DiscardDraft(ctx context.Context, siteID, collectionSlug, itemID string) (content.Item, error) {
	rt, err := s.runtime(ctx, siteID, collectionSlug)
	if err != nil {
		return content.Item{}, err
	}
	return rt.engine.ClearPending(ctx, itemID)
}

func (s *Service) PublishItem(ctx context.Context, sess Session, collectionSlug, itemID string) (content.Item, error) {
	rt, err := s.runtime(ctx, sess.SiteID, collectionSlug)
	if err != nil {
		return content.Item{}, err
	}
	return s.publishRuntime(ctx, rt, sess, itemID)
}

func (s *Service) UnpublishItem(ctx context.Context, siteID, collectionSlug, itemID string) (content.Item, error) {
	rt, err := s.runtime(ctx, siteID, collectionSlug)
	if err != nil {
		return content.Item{}, err
	}
	return s.unpublishRuntime(ctx, rt, itemID)
}

func (s *Service) publishRuntime(ctx context.Context, rt *collectionRuntime, sess Session, itemID string) (content.Item, error) {
	current, ok := rt.engine.Item(itemID)
	if !ok {
		return content.Item{}, content.ErrUnknownItem
	}
	var (
		it  content.Item
		err error
	)
	if current.Published() {
		it, err = rt.engine.Republish(ctx, itemID)
	} else {
		it, err = rt.engine.Publish(ctx, itemID)
	}
	if err != nil {
		return content.Item{}, err
	}
	s.commitRevision(rt, sess, it, "")
	s.indexItem(rt.persister.siteID, rt.collection.ID, it)
	return it, nil
}

func (s *Service) unpublishRuntime(ctx context.Context, rt *collectionRuntime, itemID string) (content.Item, error) {
	it, err := rt.engine.Unpublish(ctx, itemID)
	if err != nil {
		return content.Item{}, err
	}
	s.indexItem(rt.persister.siteID, rt.collection.ID, it)
	return it, nil
}

func (s *Service) DeleteContentItem(ctx context.Context, siteID, collectionSlug, itemID string) error {
	rt, err := s.runtime(ctx, siteID, collectionSlug)
	if err != nil {
		return err
	}
	if err := rt.engine.Delete(ctx, itemID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteItem(itemID)
	}
	return nil
}

// BatchContent fans one action across the collection view in a single
// all-or-nothing store write.
func (s *Service) BatchContent(ctx context.Context, sess Session, collectionSlug, action string) ([]content.Item, error) {
	rt, err := s.runtime(ctx, sess.SiteID, collectionSlug)
	if err != nil {
		return nil, err
	}
	var items []content.Item
	switch action {
	case "commit-pending":
		items, err = rt.coord.CommitPending(ctx)
	case "publish-all":
		items, err = rt.coord.PublishAll(ctx)
	case "unpublish-all":
		items, err = rt.coord.UnpublishAll(ctx)
	default:
		return nil, &content.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown batch action %q", action)}
	}
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Published() {
			s.commitRevision(rt, sess, it, fmt.Sprintf("Batch %s %s/%s", action, rt.collection.Slug, it.ID))
		}
		s.indexItem(sess.SiteID, rt.collection.ID, it)
	}
	return items, nil
}

// ExportItems renders the resolved view of a collection. Draft overlays win
// over live values, matching what an editor sees on screen.
func (s *Service) ExportItems(ctx context.Context, siteID, collectionSlug, format string) (filename, contentType string, payload []byte, err error) {
	rt, err := s.runtime(ctx, siteID, collectionSlug)
	if err != nil {
		return "", "", nil, err
	}
	fields := []string{"id", "title", "slug", "status", "publishedAt"}
	for _, fc := range rt.config.Fields {
		fields = append(fields, fc.Name)
	}
	items := rt.engine.Items()
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, resolvedRow(rt.config, it))
	}

	switch format {
	case "", "json":
		payload, err = export.JSON(rows)
		if err != nil {
			return "", "", nil, err
		}
		return collectionSlug + ".json", "application/json", payload, nil
	case "xlsx":
		payload, err = export.XLSX(fields, rows)
		if err != nil {
			return "", "", nil, err
		}
		return collectionSlug + ".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", payload, nil
	default:
		return "", "", nil, &content.ValidationError{Field: "format", Reason: fmt.Sprintf("unknown export format %q", format)}
	}
}

// --- Revisions ---

func (s *Service) ItemRevisions(ctx context.Context, siteID, collectionSlug, itemID string, limit int) ([]revisions.CommitInfo, error) {
	if s.revisions == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revision history is not configured", nil)
	}
	if _, err := s.GetContentItem(ctx, siteID, collectionSlug, itemID); err != nil {
		return nil, err
	}
	return s.revisions.History(siteID, collectionSlug, itemID, limit)
}

func (s *Service) ItemRevisionSnapshot(ctx context.Context, siteID, collectionSlug, itemID, hash string) (map[string]any, error) {
	if s.revisions == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revision history is not configured", nil)
	}
	return s.revisions.GetSnapshot(siteID, collectionSlug, itemID, hash)
}

// commitRevision snapshots the published payload. Failures are logged by
// the caller path, never surfaced: the publish already succeeded.
func (s *Service) commitRevision(rt *collectionRuntime, sess Session, it content.Item, message string) {
	if s.revisions == nil {
		return
	}
	author := sess.UserName
	if author == "" {
		author = sess.UserID
	}
	payload := resolvedRow(rt.config, it)
	_, _ = s.revisions.CommitSnapshot(rt.persister.siteID, rt.collection.Slug, it.ID, payload, author, message)
}

// --- Search ---

func (s *Service) Search(ctx context.Context, siteID string, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	q.SiteID = siteID
	return s.search.Search(q)
}

func (s *Service) indexItem(siteID, collectionID string, it content.Item) {
	if s.search == nil {
		return
	}
	title, _ := content.ResolveValue(it, "title").(string)
	slug, _ := content.ResolveValue(it, "slug").(string)
	seoDescription, _ := content.ResolveValue(it, "seoDescription").(string)
	s.search.IndexItem(search.ItemRecord{
		ID:             it.ID,
		SiteID:         siteID,
		CollectionID:   collectionID,
		Title:          title,
		Slug:           slug,
		SeoDescription: seoDescription,
		Status:         string(it.Status),
	})
}

// resolvedRow flattens an item into its effective field values.
func resolvedRow(cfg content.CollectionConfig, it content.Item) map[string]any {
	row := map[string]any{
		"id":     it.ID,
		"title":  content.ResolveValue(it, "title"),
		"slug":   content.ResolveValue(it, "slug"),
		"status": content.ResolveValue(it, "status"),
	}
	if v := content.ResolveValue(it, "seoTitle"); v != "" {
		row["seoTitle"] = v
	}
	if v := content.ResolveValue(it, "seoDescription"); v != "" {
		row["seoDescription"] = v
	}
	if v := content.ResolveValue(it, "ogImage"); v != "" {
		row["ogImage"] = v
	}
	if it.PublishedAt != nil {
		row["publishedAt"] = *it.PublishedAt
	}
	for _, fc := range cfg.Fields {
		if v := content.ResolveValue(it, fc.Name); v != nil {
			row[fc.Name] = v
		}
	}
	return row
}

func randomToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
