// Package search maintains the in-process index over completed jobs and
// answers entity queries with an exact pass plus a semantic pass.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/framesight/framesight/internal/capability"
	"github.com/framesight/framesight/internal/fusion"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/observability"
)

// entry is one (video, label) row of the index.
type entry struct {
	videoID     string
	label       string
	presence    float64
	appearances int
	filename    string
	status      models.VideoStatus
	durationSec float64
	createdAt   time.Time
}

// Index is rebuildable from the persisted reports. Readers proceed
// concurrently; the single writer briefly blocks them while swapping rows.
type Index struct {
	mu      sync.RWMutex
	byVideo map[string][]entry

	// embeddings caches one vector per distinct label; a present key with
	// a nil value means embedding failed and the label uses the fallback.
	embeddings map[string][]float64

	embedder capability.Embedder // nil when unavailable
	logger   *slog.Logger
}

// NewIndex creates an empty index. A nil embedder selects the token-overlap
// fallback for the semantic pass.
func NewIndex(embedder capability.Embedder, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		byVideo:    make(map[string][]entry),
		embeddings: make(map[string][]float64),
		embedder:   embedder,
		logger:     observability.WithComponent(logger, "search"),
	}
}

// IndexReport replaces a job's rows with the given report's entities.
func (ix *Index) IndexReport(report *models.Report, video *models.Video) error {
	rows := make([]entry, 0, len(report.Entities))
	for label, summary := range report.Entities {
		rows = append(rows, entry{
			videoID:     report.VideoID,
			label:       label,
			presence:    summary.Presence,
			appearances: summary.Appearances,
			filename:    report.Filename,
			status:      models.StatusCompleted,
			durationSec: report.DurationSec,
			createdAt:   video.CreatedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].label < rows[j].label })

	ix.ensureEmbeddings(rows)

	ix.mu.Lock()
	ix.byVideo[report.VideoID] = rows
	ix.mu.Unlock()
	return nil
}

// Remove drops a job from the index.
func (ix *Index) Remove(videoID string) {
	ix.mu.Lock()
	delete(ix.byVideo, videoID)
	ix.mu.Unlock()
}

// Rebuild repopulates the index from every completed job's persisted
// report. Unreadable reports are skipped with a warning.
func (ix *Index) Rebuild(ctx context.Context, videos []models.Video, readReport func(videoID string) (*models.Report, error)) {
	indexed := 0
	for i := range videos {
		if ctx.Err() != nil {
			return
		}
		v := &videos[i]
		if v.Status != models.StatusCompleted {
			continue
		}
		report, err := readReport(v.ID)
		if err != nil {
			ix.logger.Warn("skipping unreadable report during rebuild",
				slog.String("video_id", v.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := ix.IndexReport(report, v); err != nil {
			ix.logger.Warn("indexing report failed",
				slog.String("video_id", v.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		indexed++
	}
	ix.logger.Info("search index rebuilt", slog.Int("videos", indexed))
}

// ensureEmbeddings computes label vectors for rows whose labels have not
// been seen before. Failures fall back to token similarity per label.
func (ix *Index) ensureEmbeddings(rows []entry) {
	if ix.embedder == nil {
		return
	}
	for _, row := range rows {
		ix.mu.RLock()
		_, seen := ix.embeddings[row.label]
		ix.mu.RUnlock()
		if seen {
			continue
		}
		vec, err := ix.embedder.Embed(context.Background(), row.label)
		if err != nil {
			ix.logger.Debug("embedding label failed",
				slog.String("label", row.label),
				slog.String("error", err.Error()),
			)
			vec = nil
		}
		ix.mu.Lock()
		ix.embeddings[row.label] = vec
		ix.mu.Unlock()
	}
}

// EntityMatch is one matched label within a video result.
type EntityMatch struct {
	Label      string  `json:"label"`
	Presence   float64 `json:"presence"`
	Frames     int     `json:"frames"`
	Exact      bool    `json:"exact"`
	Similarity float64 `json:"similarity,omitempty"`
}

// VideoMatch is one video with its matched entities.
type VideoMatch struct {
	VideoID     string             `json:"video_id"`
	Filename    string             `json:"filename"`
	Status      models.VideoStatus `json:"status"`
	DurationSec float64            `json:"duration_sec"`
	CreatedAt   time.Time          `json:"created_at"`
	Entities    []EntityMatch      `json:"matched_entities"`
}

// SimilarEntity is a semantic hit with its similarity to the query.
type SimilarEntity struct {
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

// Result is a full search response.
type Result struct {
	Query               string          `json:"query"`
	Videos              []VideoMatch    `json:"videos"`
	SimilarEntities     []SimilarEntity `json:"similar_entities"`
	ExactMatchesCount   int             `json:"exact_matches_count"`
	AIEnhancementsCount int             `json:"ai_enhancements_count"`
	TotalUniqueVideos   int             `json:"total_unique_videos"`
}

// Query holds the search parameters after façade validation.
type Query struct {
	Q           string
	Similarity  float64 // semantic threshold in [0.5, 1.0]
	MinPresence float64
	MinFrames   int
}

// Search runs the exact and semantic passes over the index.
func (ix *Index) Search(ctx context.Context, q Query) (*Result, error) {
	normalized := fusion.Normalize(q.Q)
	result := &Result{Query: normalized}
	if normalized == "" {
		result.Videos = []VideoMatch{}
		result.SimilarEntities = []SimilarEntity{}
		return result, nil
	}

	similar := ix.semanticLabels(ctx, normalized, q.Similarity)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	byVideo := make(map[string]*VideoMatch)
	var videoIDs []string
	for videoID, rows := range ix.byVideo {
		for _, row := range rows {
			exact := strings.Contains(row.label, normalized)
			sim, semantic := similar[row.label]
			if !exact && !semantic {
				continue
			}
			if row.presence < q.MinPresence || row.appearances < q.MinFrames {
				continue
			}

			match, ok := byVideo[videoID]
			if !ok {
				match = &VideoMatch{
					VideoID:     row.videoID,
					Filename:    row.filename,
					Status:      row.status,
					DurationSec: row.durationSec,
					CreatedAt:   row.createdAt,
				}
				byVideo[videoID] = match
				videoIDs = append(videoIDs, videoID)
			}
			em := EntityMatch{
				Label:    row.label,
				Presence: row.presence,
				Frames:   row.appearances,
				Exact:    exact,
			}
			if semantic {
				em.Similarity = models.Round4(sim)
			}
			match.Entities = append(match.Entities, em)

			if exact {
				result.ExactMatchesCount++
			}
		}
	}

	sort.Strings(videoIDs)
	result.Videos = make([]VideoMatch, 0, len(videoIDs))
	for _, id := range videoIDs {
		result.Videos = append(result.Videos, *byVideo[id])
	}
	result.TotalUniqueVideos = len(result.Videos)

	result.SimilarEntities = make([]SimilarEntity, 0, len(similar))
	for label, sim := range similar {
		result.SimilarEntities = append(result.SimilarEntities, SimilarEntity{
			Label:      label,
			Similarity: models.Round4(sim),
		})
	}
	sort.Slice(result.SimilarEntities, func(i, j int) bool {
		a, b := result.SimilarEntities[i], result.SimilarEntities[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.Label < b.Label
	})
	result.AIEnhancementsCount = len(result.SimilarEntities)
	return result, nil
}

// semanticLabels returns the distinct indexed labels whose similarity to
// the query passes the threshold. Labels already containing the query are
// not semantic additions and are excluded.
func (ix *Index) semanticLabels(ctx context.Context, normalized string, threshold float64) map[string]float64 {
	labels := ix.distinctLabels()
	if len(labels) == 0 {
		return nil
	}

	var queryVec []float64
	if ix.embedder != nil {
		vec, err := ix.embedder.Embed(ctx, normalized)
		if err != nil {
			ix.logger.Debug("embedding query failed, using token fallback",
				slog.String("error", err.Error()),
			)
		} else {
			queryVec = vec
		}
	}
	queryTokens := tokens(normalized)

	out := make(map[string]float64)
	for _, label := range labels {
		if strings.Contains(label, normalized) {
			continue
		}
		var sim float64
		ix.mu.RLock()
		labelVec := ix.embeddings[label]
		ix.mu.RUnlock()
		if queryVec != nil && labelVec != nil {
			sim = cosine(queryVec, labelVec)
		} else {
			sim = jaccard(queryTokens, tokens(label))
		}
		if sim >= threshold {
			out[label] = sim
		}
	}
	return out
}

func (ix *Index) distinctLabels() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	seen := make(map[string]bool)
	var labels []string
	for _, rows := range ix.byVideo {
		for _, row := range rows {
			if !seen[row.label] {
				seen[row.label] = true
				labels = append(labels, row.label)
			}
		}
	}
	sort.Strings(labels)
	return labels
}
