package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kevbot123/spool-sub000/internal/util"
)

// Job statuses.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// ErrJobNotFound is returned for unknown or expired jobs.
var ErrJobNotFound = errors.New("crawl job not found")

// Progress is exposed to pollers while a job runs.
type Progress struct {
	PagesProcessed int `json:"pagesProcessed"`
	TotalPages     int `json:"totalPages"`
}

// Job is the persisted state of one crawl. Pages accumulate as the crawl
// walks same-host links breadth-first from the start URL.
type Job struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"siteId"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	Progress  Progress  `json:"progress"`
	Pages     []Page    `json:"pages,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Manager runs crawls and keeps their state in redis so any API replica
// can answer polls.
type Manager struct {
	client      *redis.Client
	fetcher     Fetcher
	maxPages    int
	pageTimeout time.Duration
	jobTTL      time.Duration
	logf        func(format string, args ...any)

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewManager(client *redis.Client, fetcher Fetcher, maxPages int, pageTimeout time.Duration) *Manager {
	if maxPages <= 0 {
		maxPages = 50
	}
	if pageTimeout <= 0 {
		pageTimeout = 20 * time.Second
	}
	return &Manager{
		client:      client,
		fetcher:     fetcher,
		maxPages:    maxPages,
		pageTimeout: pageTimeout,
		jobTTL:      24 * time.Hour,
		logf:        log.Printf,
		cancels:     make(map[string]context.CancelFunc),
	}
}

func jobKey(siteID, jobID string) string {
	return "spool:crawl:" + siteID + ":" + jobID
}

// Start registers a job and launches the crawl in the background.
func (m *Manager) Start(ctx context.Context, siteID, startURL string) (Job, error) {
	job := Job{
		ID:        util.NewID("crawl"),
		SiteID:    siteID,
		URL:       startURL,
		Status:    StatusStarting,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := m.save(ctx, job); err != nil {
		return Job{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	go m.run(runCtx, job)
	return job, nil
}

// Get loads a job's current state.
func (m *Manager) Get(ctx context.Context, siteID, jobID string) (Job, error) {
	raw, err := m.client.Get(ctx, jobKey(siteID, jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("load crawl job: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("decode crawl job: %w", err)
	}
	return job, nil
}

// Cancel stops a running job. Finished jobs are left untouched.
func (m *Manager) Cancel(ctx context.Context, siteID, jobID string) (Job, error) {
	job, err := m.Get(ctx, siteID, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.Status == StatusCompleted || job.Status == StatusFailed || job.Status == StatusCancelled {
		return job, nil
	}

	m.mu.Lock()
	cancel, ok := m.cancels[jobID]
	delete(m.cancels, jobID)
	m.mu.Unlock()
	if ok {
		cancel()
	}

	job.Status = StatusCancelled
	job.UpdatedAt = time.Now()
	if err := m.save(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Delete removes a job record.
func (m *Manager) Delete(ctx context.Context, siteID, jobID string) error {
	m.mu.Lock()
	if cancel, ok := m.cancels[jobID]; ok {
		cancel()
		delete(m.cancels, jobID)
	}
	m.mu.Unlock()

	if err := m.client.Del(ctx, jobKey(siteID, jobID)).Err(); err != nil {
		return fmt.Errorf("delete crawl job: %w", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, job Job) {
	defer func() {
		m.mu.Lock()
		delete(m.cancels, job.ID)
		m.mu.Unlock()
	}()

	queue := []string{job.URL}
	visited := map[string]bool{}

	job.Status = StatusProcessing
	job.Progress.TotalPages = 1
	if err := m.save(ctx, job); err != nil {
		m.logf("crawl: save job %s: %v", job.ID, err)
		return
	}

	for len(queue) > 0 && len(job.Pages) < m.maxPages {
		if ctx.Err() != nil {
			// Cancelled; Cancel already wrote the final state.
			return
		}

		pageURL := queue[0]
		queue = queue[1:]
		if visited[pageURL] {
			continue
		}
		visited[pageURL] = true

		page, err := m.fetchPage(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var forbidden *ErrForbidden
			if errors.As(err, &forbidden) {
				// Partial success: note the blocked page and keep crawling.
				job.Pages = append(job.Pages, Page{URL: pageURL, Title: "Access denied", Text: ""})
				job.Progress.PagesProcessed = len(job.Pages)
				m.saveQuiet(ctx, job)
				continue
			}
			if len(job.Pages) == 0 {
				job.Status = StatusFailed
				job.Error = err.Error()
				job.UpdatedAt = time.Now()
				m.saveQuiet(ctx, job)
				return
			}
			m.logf("crawl: job %s page %s: %v", job.ID, pageURL, err)
			continue
		}

		job.Pages = append(job.Pages, Page{URL: page.URL, Title: page.Title, Text: page.Text})
		for _, link := range page.Links {
			if !visited[link] && len(visited)+len(queue) < m.maxPages*4 {
				queue = append(queue, link)
			}
		}

		job.Progress.PagesProcessed = len(job.Pages)
		total := len(job.Pages) + len(queue)
		if total > m.maxPages {
			total = m.maxPages
		}
		job.Progress.TotalPages = total
		m.saveQuiet(ctx, job)
	}

	job.Status = StatusCompleted
	job.Progress.TotalPages = len(job.Pages)
	job.UpdatedAt = time.Now()
	m.saveQuiet(ctx, job)
}

func (m *Manager) fetchPage(ctx context.Context, pageURL string) (Page, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.pageTimeout)
	defer cancel()

	html, err := m.fetcher.Fetch(fetchCtx, pageURL)
	if err != nil {
		return Page{}, err
	}
	return Extract(pageURL, html)
}

func (m *Manager) save(ctx context.Context, job Job) error {
	job.UpdatedAt = time.Now()
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal crawl job: %w", err)
	}
	if err := m.client.Set(ctx, jobKey(job.SiteID, job.ID), raw, m.jobTTL).Err(); err != nil {
		return fmt.Errorf("save crawl job: %w", err)
	}
	return nil
}

func (m *Manager) saveQuiet(ctx context.Context, job Job) {
	if err := m.save(ctx, job); err != nil {
		m.logf("crawl: save job %s: %v", job.ID, err)
	}
}

// SetLogf overrides the diagnostic logger (tests).
func (m *Manager) SetLogf(logf func(format string, args ...any)) {
	m.logf = logf
}
