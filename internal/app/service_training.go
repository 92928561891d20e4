package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kevbot123/spool-sub000/internal/connections"
	"github.com/kevbot123/spool-sub000/internal/content"
	"github.com/kevbot123/spool-sub000/internal/crawl"
	"github.com/kevbot123/spool-sub000/internal/ingest"
	"github.com/kevbot123/spool-sub000/internal/search"
	"github.com/kevbot123/spool-sub000/internal/store"
	"github.com/kevbot123/spool-sub000/internal/training"
	"github.com/kevbot123/spool-sub000/internal/util"
)

const (
	// rssMaxItems caps how many feed entries one import turns into sources.
	rssMaxItems = 20
	// connectionActiveWindow is how recently a client must have been seen to
	// count as active.
	connectionActiveWindow = 5 * time.Minute
	// connectionStaleAge is the cutoff for cleanup.
	connectionStaleAge = time.Hour
)

// --- Training sources ---

type TrainingSourceInput struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	SourceURL string `json:"sourceUrl"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
}

// AddTrainingSource validates and stores one text or Q&A source. The quota
// check happens before any write, so a rejected source leaves nothing
// behind and the submitted input can be resent unchanged.
func (s *Service) AddTrainingSource(ctx context.Context, siteID string, in TrainingSourceInput) (store.TrainingSource, error) {
	if !training.ValidSourceType(in.Type) {
		return store.TrainingSource{}, &content.ValidationError{Field: "type", Reason: fmt.Sprintf("invalid source type %q", in.Type)}
	}
	body := in.Content
	if in.Type == training.TypeQA {
		question := strings.TrimSpace(in.Question)
		answer := strings.TrimSpace(in.Answer)
		if question == "" || answer == "" {
			return store.TrainingSource{}, &content.ValidationError{Field: "question", Reason: "question and answer are required"}
		}
		body = "Q: " + question + "\nA: " + answer
		if in.Title == "" {
			in.Title = question
		}
	}
	if strings.TrimSpace(body) == "" {
		return store.TrainingSource{}, &content.ValidationError{Field: "content", Reason: "value is required"}
	}

	plan, err := s.plan(ctx, siteID)
	if err != nil {
		return store.TrainingSource{}, err
	}
	src, err := s.training.Add(ctx, plan, store.TrainingSource{
		SiteID:    siteID,
		Type:      in.Type,
		Title:     in.Title,
		Content:   body,
		SourceURL: in.SourceURL,
	})
	if err != nil {
		return store.TrainingSource{}, err
	}
	s.indexSource(src)
	return src, nil
}

func (s *Service) ListTrainingSources(ctx context.Context, siteID string) ([]store.TrainingSource, error) {
	return s.training.List(ctx, siteID)
}

func (s *Service) DeleteTrainingSource(ctx context.Context, siteID, sourceID string) error {
	src, err := s.training.Get(ctx, siteID, sourceID)
	if err != nil {
		return err
	}
	if src.Type == training.TypeFile && src.ObjectKey != "" && s.objects != nil {
		if err := s.objects.Delete(ctx, src.ObjectKey); err != nil {
			log.Printf("training: delete object %s: %v", src.ObjectKey, err)
		}
	}
	if err := s.training.Delete(ctx, siteID, sourceID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteSource(sourceID)
	}
	return nil
}

// TrainingQuota reports usage against the site's plan limit.
type TrainingQuota struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

func (s *Service) TrainingQuota(ctx context.Context, siteID string) (TrainingQuota, error) {
	plan, err := s.plan(ctx, siteID)
	if err != nil {
		return TrainingQuota{}, err
	}
	used, limit, err := s.training.Usage(ctx, siteID, plan)
	if err != nil {
		return TrainingQuota{}, err
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return TrainingQuota{Used: used, Limit: limit, Remaining: remaining}, nil
}

// ImportRSS pulls a feed and stores each entry as a source. Imports are
// rate limited per site; the limiter error carries the window reset time.
func (s *Service) ImportRSS(ctx context.Context, siteID, feedURL string) ([]store.TrainingSource, error) {
	if strings.TrimSpace(feedURL) == "" {
		return nil, &content.ValidationError{Field: "feedUrl", Reason: "value is required"}
	}
	if s.rssLimiter != nil {
		if err := s.rssLimiter.Allow(ctx, siteID); err != nil {
			return nil, err
		}
	}
	feed, err := ingest.FetchFeed(ctx, s.httpClient, feedURL, rssMaxItems)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("fetch feed: %v", err), nil)
	}
	plan, err := s.plan(ctx, siteID)
	if err != nil {
		return nil, err
	}

	created := make([]store.TrainingSource, 0, len(feed.Items))
	for _, item := range feed.Items {
		src, err := s.training.Add(ctx, plan, store.TrainingSource{
			SiteID:    siteID,
			Type:      training.TypeRSS,
			Title:     item.Title,
			Content:   item.Content,
			SourceURL: item.Link,
		})
		if err != nil {
			// Entries stored before the quota ran out stay stored.
			return created, err
		}
		s.indexSource(src)
		created = append(created, src)
	}
	return created, nil
}

// ImportYouTube stores one video's metadata as a source.
func (s *Service) ImportYouTube(ctx context.Context, siteID, videoURL string) (store.TrainingSource, error) {
	if s.youtube == nil {
		return store.TrainingSource{}, domainError(http.StatusServiceUnavailable, "YOUTUBE_UNAVAILABLE", "YouTube import is not configured", nil)
	}
	if _, err := ingest.ParseVideoID(videoURL); err != nil {
		return store.TrainingSource{}, &content.ValidationError{Field: "videoUrl", Reason: err.Error()}
	}
	meta, err := s.youtube.Lookup(ctx, videoURL)
	if err != nil {
		return store.TrainingSource{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("lookup video: %v", err), nil)
	}
	plan, err := s.plan(ctx, siteID)
	if err != nil {
		return store.TrainingSource{}, err
	}
	src, err := s.training.Add(ctx, plan, store.TrainingSource{
		SiteID:    siteID,
		Type:      training.TypeYouTube,
		Title:     meta.Title,
		Content:   fmt.Sprintf("%s by %s", meta.Title, meta.Author),
		SourceURL: meta.URL,
	})
	if err != nil {
		return store.TrainingSource{}, err
	}
	s.indexSource(src)
	return src, nil
}

// UploadTrainingFile stores the object first and the source record second;
// a quota rejection deletes the object again so nothing leaks.
func (s *Service) UploadTrainingFile(ctx context.Context, siteID, filename string, r io.Reader, size int64, contentType string) (store.TrainingSource, error) {
	if s.objects == nil {
		return store.TrainingSource{}, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "File uploads are not configured", nil)
	}
	if strings.TrimSpace(filename) == "" {
		return store.TrainingSource{}, &content.ValidationError{Field: "file", Reason: "filename is required"}
	}
	key, err := s.objects.Put(ctx, siteID, filename, r, size, contentType)
	if err != nil {
		return store.TrainingSource{}, fmt.Errorf("store upload: %w", err)
	}
	plan, err := s.plan(ctx, siteID)
	if err != nil {
		return store.TrainingSource{}, err
	}
	src, err := s.training.Add(ctx, plan, store.TrainingSource{
		SiteID:    siteID,
		Type:      training.TypeFile,
		Title:     filename,
		ObjectKey: key,
		SizeBytes: size,
	})
	if err != nil {
		if delErr := s.objects.Delete(ctx, key); delErr != nil {
			log.Printf("training: delete rejected upload %s: %v", key, delErr)
		}
		return store.TrainingSource{}, err
	}
	return src, nil
}

// --- Website crawls ---

func (s *Service) StartCrawl(ctx context.Context, siteID, startURL string) (crawl.Job, error) {
	if s.crawler == nil {
		return crawl.Job{}, domainError(http.StatusServiceUnavailable, "CRAWL_UNAVAILABLE", "Website crawling is not configured", nil)
	}
	if strings.TrimSpace(startURL) == "" {
		return crawl.Job{}, &content.ValidationError{Field: "url", Reason: "value is required"}
	}
	return s.crawler.Start(ctx, siteID, startURL)
}

func (s *Service) GetCrawl(ctx context.Context, siteID, jobID string) (crawl.Job, error) {
	if s.crawler == nil {
		return crawl.Job{}, domainError(http.StatusServiceUnavailable, "CRAWL_UNAVAILABLE", "Website crawling is not configured", nil)
	}
	return s.crawler.Get(ctx, siteID, jobID)
}

// CancelCrawl stops a running job; a finished job is deleted instead.
func (s *Service) CancelCrawl(ctx context.Context, siteID, jobID string) (crawl.Job, error) {
	if s.crawler == nil {
		return crawl.Job{}, domainError(http.StatusServiceUnavailable, "CRAWL_UNAVAILABLE", "Website crawling is not configured", nil)
	}
	job, err := s.crawler.Get(ctx, siteID, jobID)
	if err != nil {
		return crawl.Job{}, err
	}
	switch job.Status {
	case crawl.StatusStarting, crawl.StatusProcessing:
		return s.crawler.Cancel(ctx, siteID, jobID)
	default:
		if err := s.crawler.Delete(ctx, siteID, jobID); err != nil {
			return crawl.Job{}, err
		}
		return job, nil
	}
}

// CommitCrawl turns a completed job's pages into website training sources.
func (s *Service) CommitCrawl(ctx context.Context, siteID, jobID string) ([]store.TrainingSource, error) {
	job, err := s.GetCrawl(ctx, siteID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != crawl.StatusCompleted {
		return nil, domainError(http.StatusConflict, "JOB_NOT_READY", fmt.Sprintf("crawl job is %s, not completed", job.Status), nil)
	}
	plan, err := s.plan(ctx, siteID)
	if err != nil {
		return nil, err
	}

	created := make([]store.TrainingSource, 0, len(job.Pages))
	for _, page := range job.Pages {
		src, err := s.training.Add(ctx, plan, store.TrainingSource{
			SiteID:    siteID,
			Type:      training.TypeWebsite,
			Title:     page.Title,
			Content:   page.Text,
			SourceURL: page.URL,
		})
		if err != nil {
			return created, err
		}
		s.indexSource(src)
		created = append(created, src)
	}
	return created, nil
}

// --- Chatbot connections ---

func (s *Service) TrackConnection(ctx context.Context, siteID, clientID, page, userAgent, remoteAddr string) error {
	if s.tracker == nil {
		return domainError(http.StatusServiceUnavailable, "CONNECTIONS_UNAVAILABLE", "Connection tracking is not configured", nil)
	}
	if strings.TrimSpace(clientID) == "" {
		return &content.ValidationError{Field: "clientId", Reason: "value is required"}
	}
	now := time.Now()
	return s.tracker.Track(ctx, connections.Connection{
		ClientID:    clientID,
		SiteID:      siteID,
		UserAgent:   userAgent,
		RemoteAddr:  remoteAddr,
		Page:        page,
		ConnectedAt: now,
		LastSeenAt:  now,
	})
}

func (s *Service) HeartbeatConnection(ctx context.Context, siteID, clientID string) error {
	if s.tracker == nil {
		return domainError(http.StatusServiceUnavailable, "CONNECTIONS_UNAVAILABLE", "Connection tracking is not configured", nil)
	}
	return s.tracker.Heartbeat(ctx, siteID, clientID)
}

func (s *Service) DisconnectConnection(ctx context.Context, siteID, clientID string) error {
	if s.tracker == nil {
		return domainError(http.StatusServiceUnavailable, "CONNECTIONS_UNAVAILABLE", "Connection tracking is not configured", nil)
	}
	return s.tracker.Disconnect(ctx, siteID, clientID)
}

func (s *Service) ActiveConnections(ctx context.Context, siteID string) ([]connections.Connection, error) {
	if s.tracker == nil {
		return []connections.Connection{}, nil
	}
	return s.tracker.Active(ctx, siteID, connectionActiveWindow)
}

func (s *Service) ConnectionStats(ctx context.Context, siteID string) (connections.Stats, error) {
	if s.tracker == nil {
		return connections.Stats{}, nil
	}
	return s.tracker.SiteStats(ctx, siteID)
}

func (s *Service) CleanupConnections(ctx context.Context, siteID string) (int, error) {
	if s.tracker == nil {
		return 0, nil
	}
	return s.tracker.Cleanup(ctx, siteID, connectionStaleAge)
}

// --- Chatbots ---

func (s *Service) CreateChatbot(ctx context.Context, siteID, name, model, systemPrompt string) (store.Chatbot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Chatbot{}, &content.ValidationError{Field: "name", Reason: "value is required"}
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	bot := store.Chatbot{
		ID:           util.NewID("bot"),
		SiteID:       siteID,
		Name:         name,
		Model:        model,
		SystemPrompt: systemPrompt,
	}
	if err := s.store.InsertChatbot(ctx, bot); err != nil {
		return store.Chatbot{}, fmt.Errorf("insert chatbot: %w", err)
	}
	return bot, nil
}

func (s *Service) ListChatbots(ctx context.Context, siteID string) ([]store.Chatbot, error) {
	return s.store.ListChatbots(ctx, siteID)
}

// --- Helpers ---

func (s *Service) plan(ctx context.Context, siteID string) (string, error) {
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return "", fmt.Errorf("get site: %w", err)
	}
	if site.Plan == "" {
		return "free", nil
	}
	return site.Plan, nil
}

func (s *Service) indexSource(src store.TrainingSource) {
	if s.search == nil {
		return
	}
	s.search.IndexSource(search.SourceRecord{
		ID:      src.ID,
		SiteID:  src.SiteID,
		Type:    src.Type,
		Title:   src.Title,
		Content: src.Content,
	})
}
