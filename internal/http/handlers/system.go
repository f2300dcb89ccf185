package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/framesight/framesight/internal/capability"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/repository"
	"github.com/framesight/framesight/internal/storage"
	"github.com/framesight/framesight/internal/version"
)

// SystemHandler handles the system status endpoint.
type SystemHandler struct {
	repo         repository.VideoRepository
	layout       *storage.Layout
	capabilities *capability.Set
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(repo repository.VideoRepository, layout *storage.Layout, capabilities *capability.Set) *SystemHandler {
	return &SystemHandler{repo: repo, layout: layout, capabilities: capabilities}
}

// SystemStatusInput is the input for the system status endpoint.
type SystemStatusInput struct{}

// JobCounts summarizes jobs per lifecycle state.
type JobCounts struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// CapabilityStatus reports which model capabilities are configured.
type CapabilityStatus struct {
	Detector    bool `json:"detector"`
	Captioner   bool `json:"captioner"`
	OpenVocab   bool `json:"open_vocab"`
	OCR         bool `json:"ocr"`
	Transcriber bool `json:"transcriber"`
	Embedder    bool `json:"embedder"`
}

// DiskInfo reports data directory usage.
type DiskInfo struct {
	Path        string  `json:"path"`
	TotalGB     float64 `json:"total_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// SystemStatusResponse is the system status payload.
type SystemStatusResponse struct {
	Version      version.Info     `json:"version"`
	Jobs         JobCounts        `json:"jobs"`
	Capabilities CapabilityStatus `json:"capabilities"`
	Disk         DiskInfo         `json:"disk"`
}

// SystemStatusOutput is the output for the system status endpoint.
type SystemStatusOutput struct {
	Body SystemStatusResponse
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystemStatus",
		Method:      "GET",
		Path:        "/api/v1/system/status",
		Summary:     "Get system status",
		Description: "Returns job counts, configured capabilities, and data directory usage",
		Tags:        []string{"System"},
	}, h.GetStatus)
}

// GetStatus returns the system status.
func (h *SystemHandler) GetStatus(ctx context.Context, _ *SystemStatusInput) (*SystemStatusOutput, error) {
	resp := SystemStatusResponse{
		Version:      version.GetInfo(),
		Jobs:         h.jobCounts(ctx),
		Capabilities: h.capabilityStatus(),
	}

	if h.layout != nil {
		resp.Disk = DiskInfo{Path: h.layout.Root()}
		if usage, err := disk.Usage(h.layout.Root()); err == nil && usage != nil {
			resp.Disk.TotalGB = float64(usage.Total) / 1024 / 1024 / 1024
			resp.Disk.FreeGB = float64(usage.Free) / 1024 / 1024 / 1024
			resp.Disk.UsedPercent = usage.UsedPercent
		}
	}
	return &SystemStatusOutput{Body: resp}, nil
}

func (h *SystemHandler) jobCounts(ctx context.Context) JobCounts {
	counts := JobCounts{}
	if h.repo == nil {
		return counts
	}
	for status, dst := range map[models.VideoStatus]*int64{
		models.StatusQueued:     &counts.Queued,
		models.StatusProcessing: &counts.Processing,
		models.StatusCompleted:  &counts.Completed,
		models.StatusFailed:     &counts.Failed,
	} {
		s := status
		if _, total, err := h.repo.List(ctx, &s, 1, 1); err == nil {
			*dst = total
		}
	}
	return counts
}

func (h *SystemHandler) capabilityStatus() CapabilityStatus {
	status := CapabilityStatus{}
	if h.capabilities == nil {
		return status
	}
	if _, err := h.capabilities.Detector(); err == nil {
		status.Detector = true
	}
	if _, err := h.capabilities.Captioner(); err == nil {
		status.Captioner = true
	}
	if _, err := h.capabilities.Scorer(); err == nil {
		status.OpenVocab = true
	}
	if _, err := h.capabilities.OCR(); err == nil {
		status.OCR = true
	}
	if _, err := h.capabilities.Transcriber(); err == nil {
		status.Transcriber = true
	}
	if _, err := h.capabilities.Embedder(); err == nil {
		status.Embedder = true
	}
	return status
}
