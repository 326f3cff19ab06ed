// Package webhook answers retrieval-agent requests: ranked active prompts for a
// phase and free-text query, with an optional usage submission.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
	catalogstore "github.com/gstripling00/prompt-system/internal/catalog/store"
	"github.com/gstripling00/prompt-system/internal/common/constants"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	usagemodels "github.com/gstripling00/prompt-system/internal/usage/models"
	usageservice "github.com/gstripling00/prompt-system/internal/usage/service"
)

const (
	defaultLimit = 5
	maxLimit     = 50
)

var ErrInvalidRequest = errors.New("invalid webhook request")

type PromptLister interface {
	ListPrompts(ctx context.Context, filter catalogstore.ListFilter) ([]*models.PromptRecord, error)
}

type UsageRecorder interface {
	Record(ctx context.Context, event usagemodels.Event) (*usagemodels.Result, error)
}

type Request struct {
	Phase string             `json:"phase,omitempty"`
	Query string             `json:"query,omitempty"`
	Limit int                `json:"limit,omitempty"`
	Usage *usagemodels.Event `json:"usage,omitempty"`
}

type Response struct {
	Prompts     []*models.PromptRecord `json:"prompts"`
	Total       int                    `json:"total"`
	UsageResult *usagemodels.Result    `json:"usage_result,omitempty"`
	UsageError  string                 `json:"usage_error,omitempty"`
}

type Service struct {
	prompts PromptLister
	usage   UsageRecorder
	log     *logger.Logger
}

// NewService creates the webhook service. usage may be nil, in which case usage
// submissions are refused.
func NewService(prompts PromptLister, usage UsageRecorder, log *logger.Logger) *Service {
	return &Service{prompts: prompts, usage: usage, log: log.WithComponent("retrieval-webhook")}
}

// Search returns active prompts of the requested phase ranked against the query,
// then records the attached usage event if any. A usage write failure does not
// fail the retrieval.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	filter := catalogstore.ListFilter{}
	if strings.TrimSpace(req.Phase) != "" {
		phase, ok := models.ParsePhase(req.Phase)
		if !ok {
			return nil, fmt.Errorf("%w: unknown phase %q", ErrInvalidRequest, req.Phase)
		}
		filter.Phase = phase
	}
	limit := req.Limit
	switch {
	case limit < 0:
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	case limit == 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}
	if req.Usage != nil && s.usage == nil {
		return nil, fmt.Errorf("%w: usage submissions are disabled", ErrInvalidRequest)
	}

	candidates, err := s.prompts.ListPrompts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	ranked := Rank(candidates, req.Query)
	total := len(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	resp := &Response{Prompts: ranked, Total: total}

	if req.Usage != nil {
		usageCtx, cancel := context.WithTimeout(ctx, constants.UsageRecordTimeout)
		defer cancel()
		result, err := s.usage.Record(usageCtx, *req.Usage)
		switch {
		case errors.Is(err, usageservice.ErrInvalidEvent):
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		case err != nil:
			s.log.WithError(err).Warn("usage submission failed", zap.String("prompt_id", req.Usage.PromptID))
			resp.UsageError = "usage event could not be recorded"
		default:
			resp.UsageResult = result
		}
	}
	return resp, nil
}

type searchable []*models.PromptRecord

func (s searchable) Len() int { return len(s) }

func (s searchable) String(i int) string {
	p := s[i]
	parts := []string{p.Name, strings.Join(p.Tags, " ")}
	if p.SubCategory != nil {
		parts = append(parts, *p.SubCategory)
	}
	return strings.Join(parts, " ")
}

// Rank orders prompts for retrieval. Without a query every prompt is returned by
// rating, usage and name; with one only fuzzy matches are kept, best score first.
func Rank(prompts []*models.PromptRecord, query string) []*models.PromptRecord {
	query = strings.TrimSpace(query)
	if query == "" {
		out := append([]*models.PromptRecord(nil), prompts...)
		sort.SliceStable(out, func(i, j int) bool { return popular(out[i], out[j]) })
		return out
	}

	matches := fuzzy.FindFrom(query, searchable(prompts))
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return popular(prompts[matches[i].Index], prompts[matches[j].Index])
	})
	out := make([]*models.PromptRecord, 0, len(matches))
	for _, m := range matches {
		out = append(out, prompts[m.Index])
	}
	return out
}

// popular reports whether a sorts before b: higher rating, then more usage, then name.
func popular(a, b *models.PromptRecord) bool {
	ra, rb := floatOr(a.AvgRating), floatOr(b.AvgRating)
	if ra != rb {
		return ra > rb
	}
	ua, ub := intOr(a.UsageCount), intOr(b.UsageCount)
	if ua != ub {
		return ua > ub
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.PromptID < b.PromptID
}

func floatOr(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}

func intOr(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
