package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"horse.fit/websetdedup/internal/db"
	"horse.fit/websetdedup/internal/events"
)

// handleStream serves the per-job SSE feed (§4.9): connected, replayed
// accepted items, then either the job's cached terminal event or the live
// stream until the client disconnects or the job finishes.
func (s *Server) handleStream(c echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}

	sub, ok := s.bus.Subscribe(jobID)
	if !ok {
		return failNotFound(c, "Webset job not found")
	}
	defer sub.Cancel()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.Writer.(http.Flusher)

	writeEvent := func(ev events.Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if err := writeEvent(events.Connected(jobID)); err != nil {
		return nil
	}
	for _, ev := range sub.Replay {
		if err := writeEvent(ev); err != nil {
			return nil
		}
	}
	if sub.Terminal != nil {
		_ = writeEvent(*sub.Terminal)
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case ev, open := <-sub.Events:
			if !open {
				return nil
			}
			if err := writeEvent(ev); err != nil {
				return nil
			}
			if ev.Type == events.KindFinished || ev.Type == events.KindError {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

type jobSummary struct {
	JobID              string         `json:"id"`
	OriginalQuery      string         `json:"originalQuery"`
	EntityType         *string        `json:"entityType,omitempty"`
	Status             string         `json:"status"`
	TotalItems         int            `json:"totalItems"`
	UniqueItems        int            `json:"uniqueItems"`
	DuplicatesRejected int            `json:"duplicatesRejected"`
	RejectionReasons   map[string]int `json:"rejectionReasons"`
	CreatedAt          time.Time      `json:"createdAt"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
}

func toJobSummary(j db.Job) jobSummary {
	reasons := map[string]int{}
	_ = json.Unmarshal(j.RejectionReasons, &reasons)
	return jobSummary{
		JobID:              j.JobID,
		OriginalQuery:      j.OriginalQuery,
		EntityType:         j.EntityType,
		Status:             j.Status,
		TotalItems:         j.TotalItems,
		UniqueItems:        j.UniqueItems,
		DuplicatesRejected: j.DuplicatesRejected,
		RejectionReasons:   reasons,
		CreatedAt:          j.CreatedAt,
		CompletedAt:        j.CompletedAt,
	}
}

// handleHistoryList returns the most recent jobs, newest first (§4.8's
// supplemented history surface).
func (s *Server) handleHistoryList(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	var rows []db.Job
	if err := s.pool.GORM().WithContext(c.Request().Context()).
		Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		s.logger.Error().Err(err).Msg("list job history failed")
		return internalError(c, "Failed to load webset history")
	}

	items := make([]jobSummary, 0, len(rows))
	for _, r := range rows {
		items = append(items, toJobSummary(r))
	}
	return success(c, map[string]any{"items": items})
}

type itemDetail struct {
	ItemID           string          `json:"itemId"`
	Name             string          `json:"name"`
	URL              string          `json:"url"`
	Status           string          `json:"status"`
	RejectionReason  *string         `json:"rejectionReason,omitempty"`
	RejectionDetails json.RawMessage `json:"rejectionDetails,omitempty"`
	NormalizedTitle  *string         `json:"normalizedTitle,omitempty"`
	Similarity       *float64        `json:"similarity,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// handleHistoryDetail returns one job's summary plus its full per-item
// history, including the rejection detail fields the expanded spec adds.
func (s *Server) handleHistoryDetail(c echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}

	var job db.Job
	if err := s.pool.GORM().WithContext(c.Request().Context()).
		Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || db.IsNoRows(err) {
			return failNotFound(c, "Webset job not found")
		}
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("load job detail failed")
		return internalError(c, "Failed to load webset job")
	}

	var rows []db.Item
	if err := s.pool.GORM().WithContext(c.Request().Context()).
		Where("job_id = ?", jobID).Order("created_at ASC").Find(&rows).Error; err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("load job items failed")
		return internalError(c, "Failed to load webset items")
	}

	items := make([]itemDetail, 0, len(rows))
	for _, r := range rows {
		items = append(items, itemDetail{
			ItemID:           r.ItemID,
			Name:             r.Name,
			URL:              r.URL,
			Status:           r.Status,
			RejectionReason:  r.RejectionReason,
			RejectionDetails: r.RejectionDetails,
			NormalizedTitle:  r.NormalizedTitle,
			Similarity:       r.Similarity,
			CreatedAt:        r.CreatedAt,
		})
	}

	return success(c, map[string]any{
		"job":   toJobSummary(job),
		"items": items,
	})
}

func (s *Server) handleStatsOverview(c echo.Context) error {
	ctx := c.Request().Context()
	var totalJobs, activeJobs, totalItems, uniqueItems, rejectedItems int64

	gdb := s.pool.GORM().WithContext(ctx)
	if err := gdb.Table("websets.jobs").Count(&totalJobs).Error; err != nil {
		return s.statsError(c, err)
	}
	if err := gdb.Table("websets.jobs").Where("status IN ('active','processing')").Count(&activeJobs).Error; err != nil {
		return s.statsError(c, err)
	}
	if err := gdb.Table("websets.jobs").Select("COALESCE(SUM(total_items),0)").Row().Scan(&totalItems); err != nil {
		return s.statsError(c, err)
	}
	if err := gdb.Table("websets.jobs").Select("COALESCE(SUM(unique_items),0)").Row().Scan(&uniqueItems); err != nil {
		return s.statsError(c, err)
	}
	if err := gdb.Table("websets.jobs").Select("COALESCE(SUM(duplicates_rejected),0)").Row().Scan(&rejectedItems); err != nil {
		return s.statsError(c, err)
	}

	return success(c, map[string]any{
		"totalJobs":     totalJobs,
		"activeJobs":    activeJobs,
		"totalItems":    totalItems,
		"uniqueItems":   uniqueItems,
		"rejectedItems": rejectedItems,
	})
}

func (s *Server) handleStatsDatabase(c echo.Context) error {
	ctx := c.Request().Context()
	var jobRows, itemRows int64
	gdb := s.pool.GORM().WithContext(ctx)
	if err := gdb.Table("websets.jobs").Count(&jobRows).Error; err != nil {
		return s.statsError(c, err)
	}
	if err := gdb.Table("websets.items").Count(&itemRows).Error; err != nil {
		return s.statsError(c, err)
	}
	return success(c, map[string]any{
		"jobRows":  jobRows,
		"itemRows": itemRows,
	})
}

// handleStatsURLResolution reports how many persisted items (accepted and
// rejected alike) carry a non-empty url versus an empty one.
func (s *Server) handleStatsURLResolution(c echo.Context) error {
	ctx := c.Request().Context()
	var withURL, withoutURL int64
	gdb := s.pool.GORM().WithContext(ctx)
	if err := gdb.Table("websets.items").Where("url <> ''").Count(&withURL).Error; err != nil {
		return s.statsError(c, err)
	}
	if err := gdb.Table("websets.items").Where("url = ''").Count(&withoutURL).Error; err != nil {
		return s.statsError(c, err)
	}
	return success(c, map[string]any{
		"withExplicitURL": withURL,
		"withoutURL":      withoutURL,
	})
}

func (s *Server) statsError(c echo.Context, err error) error {
	s.logger.Error().Err(err).Msg("query stats failed")
	return internalError(c, "Failed to load stats")
}
