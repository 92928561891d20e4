// Package training manages chatbot training sources and the per-site
// storage quota they count against.
package training

import (
	"context"
	"fmt"
	"strings"

	"github.com/kevbot123/spool-sub000/internal/store"
	"github.com/kevbot123/spool-sub000/internal/util"
)

// Source types accepted by the ingestion endpoints.
const (
	TypeText    = "text"
	TypeQA      = "qa"
	TypeWebsite = "website"
	TypeFile    = "file"
	TypeRSS     = "rss"
	TypeYouTube = "youtube"
)

// Per-plan storage limits in bytes.
var planLimits = map[string]int64{
	"free":    400_000,
	"starter": 5_000_000,
	"pro":     50_000_000,
}

// PlanLimit returns the byte quota for a plan; unknown plans get the free
// tier.
func PlanLimit(plan string) int64 {
	if limit, ok := planLimits[plan]; ok {
		return limit
	}
	return planLimits["free"]
}

// QuotaExceededError carries the numbers the admin surface shows the user.
type QuotaExceededError struct {
	CurrentUsage int64 `json:"currentUsage"`
	Limit        int64 `json:"limit"`
	Remaining    int64 `json:"remaining"`
	Attempted    int64 `json:"attempted"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: %d of %d bytes used, %d remaining, attempted %d",
		e.CurrentUsage, e.Limit, e.Remaining, e.Attempted)
}

// ValidSourceType reports whether t is one of the accepted source types.
func ValidSourceType(t string) bool {
	switch t {
	case TypeText, TypeQA, TypeWebsite, TypeFile, TypeRSS, TypeYouTube:
		return true
	}
	return false
}

// SourceSize computes the stored measure of a source. Text-like sources
// count their content bytes; file sources count the uploaded object size.
func SourceSize(src store.TrainingSource) int64 {
	if src.Type == TypeFile {
		return src.SizeBytes
	}
	size := int64(len(src.Title)) + int64(len(src.Content))
	if size == 0 {
		size = src.SizeBytes
	}
	return size
}

type sourceStore interface {
	InsertTrainingSource(ctx context.Context, src store.TrainingSource) error
	GetTrainingSource(ctx context.Context, siteID, sourceID string) (store.TrainingSource, error)
	ListTrainingSources(ctx context.Context, siteID string) ([]store.TrainingSource, error)
	DeleteTrainingSource(ctx context.Context, siteID, sourceID string) error
	TrainingUsage(ctx context.Context, siteID string) (int64, error)
}

type Service struct {
	store sourceStore
}

func NewService(store sourceStore) *Service {
	return &Service{store: store}
}

// Add persists a new training source after checking it fits the plan
// quota. Nothing is written when the quota check fails, so a rejected
// submission leaves no partial record behind.
func (s *Service) Add(ctx context.Context, plan string, src store.TrainingSource) (store.TrainingSource, error) {
	if !ValidSourceType(src.Type) {
		return store.TrainingSource{}, fmt.Errorf("invalid source type %q", src.Type)
	}
	if strings.TrimSpace(src.Title) == "" {
		src.Title = defaultTitle(src)
	}
	src.SizeBytes = SourceSize(src)

	usage, err := s.store.TrainingUsage(ctx, src.SiteID)
	if err != nil {
		return store.TrainingSource{}, err
	}
	limit := PlanLimit(plan)
	if usage+src.SizeBytes > limit {
		remaining := limit - usage
		if remaining < 0 {
			remaining = 0
		}
		return store.TrainingSource{}, &QuotaExceededError{
			CurrentUsage: usage,
			Limit:        limit,
			Remaining:    remaining,
			Attempted:    src.SizeBytes,
		}
	}

	if src.ID == "" {
		src.ID = util.NewID("src")
	}
	if src.Status == "" {
		src.Status = "ready"
	}
	if err := s.store.InsertTrainingSource(ctx, src); err != nil {
		return store.TrainingSource{}, err
	}
	return src, nil
}

func (s *Service) List(ctx context.Context, siteID string) ([]store.TrainingSource, error) {
	return s.store.ListTrainingSources(ctx, siteID)
}

func (s *Service) Get(ctx context.Context, siteID, sourceID string) (store.TrainingSource, error) {
	return s.store.GetTrainingSource(ctx, siteID, sourceID)
}

func (s *Service) Delete(ctx context.Context, siteID, sourceID string) error {
	return s.store.DeleteTrainingSource(ctx, siteID, sourceID)
}

// Usage reports current consumption against the plan limit.
func (s *Service) Usage(ctx context.Context, siteID, plan string) (used, limit int64, err error) {
	used, err = s.store.TrainingUsage(ctx, siteID)
	if err != nil {
		return 0, 0, err
	}
	return used, PlanLimit(plan), nil
}

func defaultTitle(src store.TrainingSource) string {
	switch src.Type {
	case TypeWebsite, TypeRSS, TypeYouTube:
		if src.SourceURL != "" {
			return src.SourceURL
		}
	case TypeFile:
		if src.ObjectKey != "" {
			return src.ObjectKey
		}
	}
	if len(src.Content) > 60 {
		return src.Content[:60]
	}
	if src.Content != "" {
		return src.Content
	}
	return "Untitled source"
}
