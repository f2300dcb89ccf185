package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/service"
)

// VideoHandler handles the video job endpoints.
type VideoHandler struct {
	videos *service.VideoService
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(videos *service.VideoService) *VideoHandler {
	return &VideoHandler{videos: videos}
}

// Register registers the video routes with the API.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "submitVideo",
		Method:      "POST",
		Path:        "/api/v1/videos",
		Summary:     "Submit video",
		Description: "Uploads a video and queues it for processing",
		Tags:        []string{"Videos"},
		RequestBody: &huma.RequestBody{Content: map[string]*huma.MediaType{"multipart/form-data": {}}},
	}, h.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "submitVideoURL",
		Method:      "POST",
		Path:        "/api/v1/videos/url",
		Summary:     "Submit video by URL",
		Description: "Downloads a remote video and queues it for processing",
		Tags:        []string{"Videos"},
	}, h.SubmitURL)

	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      "GET",
		Path:        "/api/v1/videos",
		Summary:     "List videos",
		Description: "Returns a page of video jobs, newest first",
		Tags:        []string{"Videos"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getVideo",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}",
		Summary:     "Get video",
		Description: "Returns the job record for a video",
		Tags:        []string{"Videos"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "getVideoStatus",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}/status",
		Summary:     "Get processing status",
		Description: "Returns status, progress, and current stage",
		Tags:        []string{"Videos"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "getVideoReport",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}/report",
		Summary:     "Get analysis report",
		Description: "Returns the report of a completed job",
		Tags:        []string{"Videos"},
	}, h.Report)

	huma.Register(api, huma.Operation{
		OperationID: "listVideoFrames",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}/frames",
		Summary:     "List frames",
		Description: "Returns a page of retained frames, optionally filtered by entity",
		Tags:        []string{"Videos"},
	}, h.Frames)

	huma.Register(api, huma.Operation{
		OperationID: "getNearestFrame",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}/frames/nearest",
		Summary:     "Find nearest frame",
		Description: "Returns the frame closest to a timestamp with its page position",
		Tags:        []string{"Videos"},
	}, h.NearestFrame)

	huma.Register(api, huma.Operation{
		OperationID: "deleteVideo",
		Method:      "DELETE",
		Path:        "/api/v1/videos/{id}",
		Summary:     "Delete video",
		Description: "Removes a job and all of its artifacts",
		Tags:        []string{"Videos"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "cancelVideo",
		Method:      "POST",
		Path:        "/api/v1/videos/{id}/cancel",
		Summary:     "Cancel processing",
		Description: "Stops a queued or processing job",
		Tags:        []string{"Videos"},
	}, h.Cancel)
}

// RegisterRaw registers the binary endpoints directly on the router:
// frame images and the original video download.
func (h *VideoHandler) RegisterRaw(router chi.Router) {
	router.Get("/api/v1/videos/{id}/frames/file/*", h.serveFrame)
	router.Get("/api/v1/videos/{id}/download", h.serveVideo)
}

// SubmitVideoInput is the multipart upload: "file" carries the video,
// "voice_file" an optional transcript, "interval_sec" the sampling interval.
type SubmitVideoInput struct {
	RawBody multipart.Form
}

// SubmitVideoOutput returns the created job record.
type SubmitVideoOutput struct {
	Status int
	Body   models.Video
}

// Submit handles the multipart video upload.
func (h *VideoHandler) Submit(ctx context.Context, input *SubmitVideoInput) (*SubmitVideoOutput, error) {
	files := input.RawBody.File["file"]
	if len(files) == 0 {
		return nil, huma.Error400BadRequest("no video file provided")
	}
	file, err := files[0].Open()
	if err != nil {
		return nil, huma.Error400BadRequest("failed to open uploaded file")
	}
	defer file.Close()

	sub := service.Submission{
		Filename: files[0].Filename,
		Video:    file,
	}

	if voices := input.RawBody.File["voice_file"]; len(voices) > 0 {
		voice, err := voices[0].Open()
		if err != nil {
			return nil, huma.Error400BadRequest("failed to open voice file")
		}
		defer voice.Close()
		sub.Voice = voice
	}

	if vals := input.RawBody.Value["interval_sec"]; len(vals) > 0 && vals[0] != "" {
		interval, err := strconv.Atoi(vals[0])
		if err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid interval_sec %q", vals[0]))
		}
		sub.IntervalSec = interval
	}

	video, err := h.videos.Submit(ctx, sub)
	if err != nil {
		return nil, serviceError(err, "failed to submit video")
	}
	return &SubmitVideoOutput{Status: http.StatusCreated, Body: *video}, nil
}

// SubmitVideoURLInput is the JSON body for URL submission.
type SubmitVideoURLInput struct {
	Body struct {
		URL         string `json:"url" doc:"HTTP(S) URL of the video to download"`
		Cookies     string `json:"cookies,omitempty" doc:"Cookie header sent with the download request"`
		IntervalSec int    `json:"interval_sec,omitempty" minimum:"0" doc:"Sampling interval in seconds; 0 selects the default"`
	}
}

// SubmitURL handles video submission by URL.
func (h *VideoHandler) SubmitURL(ctx context.Context, input *SubmitVideoURLInput) (*SubmitVideoOutput, error) {
	video, err := h.videos.SubmitURL(ctx, service.URLSubmission{
		URL:         input.Body.URL,
		Cookies:     input.Body.Cookies,
		IntervalSec: input.Body.IntervalSec,
	})
	if err != nil {
		return nil, serviceError(err, "failed to submit video url")
	}
	return &SubmitVideoOutput{Status: http.StatusCreated, Body: *video}, nil
}

// ListVideosInput selects a page of jobs.
type ListVideosInput struct {
	Status   string `query:"status" enum:"queued,processing,completed,failed," doc:"Filter by job status"`
	Page     int    `query:"page" default:"1" minimum:"1"`
	PageSize int    `query:"page_size" default:"20" minimum:"1" maximum:"100"`
}

// ListVideosOutput is one page of jobs.
type ListVideosOutput struct {
	Body service.VideoList
}

// List returns a page of jobs.
func (h *VideoHandler) List(ctx context.Context, input *ListVideosInput) (*ListVideosOutput, error) {
	list, err := h.videos.List(ctx, input.Status, input.Page, input.PageSize)
	if err != nil {
		return nil, serviceError(err, "failed to list videos")
	}
	return &ListVideosOutput{Body: *list}, nil
}

// VideoIDInput identifies a job.
type VideoIDInput struct {
	ID string `path:"id" maxLength:"8" doc:"Video job identifier"`
}

// GetVideoOutput is a single job record.
type GetVideoOutput struct {
	Body models.Video
}

// Get returns the job record.
func (h *VideoHandler) Get(ctx context.Context, input *VideoIDInput) (*GetVideoOutput, error) {
	video, err := h.videos.Get(ctx, input.ID)
	if err != nil {
		return nil, serviceError(err, "failed to get video")
	}
	return &GetVideoOutput{Body: *video}, nil
}

// VideoStatusOutput is the live progress view.
type VideoStatusOutput struct {
	Body service.JobStatus
}

// Status returns the progress view of a job.
func (h *VideoHandler) Status(ctx context.Context, input *VideoIDInput) (*VideoStatusOutput, error) {
	status, err := h.videos.Status(ctx, input.ID)
	if err != nil {
		return nil, serviceError(err, "failed to get status")
	}
	return &VideoStatusOutput{Body: *status}, nil
}

// VideoReportOutput is the analysis report.
type VideoReportOutput struct {
	Body models.Report
}

// Report returns the report of a completed job.
func (h *VideoHandler) Report(ctx context.Context, input *VideoIDInput) (*VideoReportOutput, error) {
	rep, err := h.videos.Report(ctx, input.ID)
	if err != nil {
		return nil, serviceError(err, "failed to get report")
	}
	return &VideoReportOutput{Body: *rep}, nil
}

// ListFramesInput selects a page of a job's frames.
type ListFramesInput struct {
	ID        string `path:"id" maxLength:"8"`
	Page      int    `query:"page" default:"1" minimum:"1"`
	PageSize  int    `query:"page_size" default:"20" minimum:"1" maximum:"100"`
	Annotated bool   `query:"annotated" doc:"Serve annotated overlays instead of raw frames"`
	Entity    string `query:"entity" doc:"Only frames where this entity appears"`
}

// ListFramesOutput is one page of frames.
type ListFramesOutput struct {
	Body service.FramesPage
}

// Frames returns a page of retained frames.
func (h *VideoHandler) Frames(ctx context.Context, input *ListFramesInput) (*ListFramesOutput, error) {
	page, err := h.videos.Frames(ctx, input.ID, service.FramesQuery{
		Page:      input.Page,
		PageSize:  input.PageSize,
		Annotated: input.Annotated,
		Entity:    input.Entity,
	})
	if err != nil {
		return nil, serviceError(err, "failed to list frames")
	}
	return &ListFramesOutput{Body: *page}, nil
}

// NearestFrameInput locates a frame by timestamp.
type NearestFrameInput struct {
	ID        string  `path:"id" maxLength:"8"`
	Timestamp float64 `query:"timestamp" required:"true" minimum:"0" doc:"Target timestamp in seconds"`
	Entity    string  `query:"entity" doc:"Restrict to frames where this entity appears"`
	PageSize  int     `query:"page_size" default:"20" minimum:"1" maximum:"100"`
}

// NearestFrameOutput is the located frame with its page position.
type NearestFrameOutput struct {
	Body service.NearestResult
}

// NearestFrame returns the frame closest to the requested timestamp.
func (h *VideoHandler) NearestFrame(ctx context.Context, input *NearestFrameInput) (*NearestFrameOutput, error) {
	result, err := h.videos.NearestFrame(ctx, input.ID, input.Timestamp, input.Entity, input.PageSize)
	if err != nil {
		return nil, serviceError(err, "failed to locate frame")
	}
	return &NearestFrameOutput{Body: *result}, nil
}

// DeleteVideoOutput acknowledges the deletion.
type DeleteVideoOutput struct {
	Body struct {
		Deleted bool   `json:"deleted"`
		VideoID string `json:"video_id"`
	}
}

// Delete removes a job and its artifacts.
func (h *VideoHandler) Delete(ctx context.Context, input *VideoIDInput) (*DeleteVideoOutput, error) {
	if err := h.videos.Delete(ctx, input.ID); err != nil {
		return nil, serviceError(err, "failed to delete video")
	}
	out := &DeleteVideoOutput{}
	out.Body.Deleted = true
	out.Body.VideoID = input.ID
	return out, nil
}

// CancelVideoOutput acknowledges the cancellation.
type CancelVideoOutput struct {
	Body struct {
		Cancelled bool   `json:"cancelled"`
		VideoID   string `json:"video_id"`
	}
}

// Cancel stops a queued or processing job.
func (h *VideoHandler) Cancel(ctx context.Context, input *VideoIDInput) (*CancelVideoOutput, error) {
	if err := h.videos.Cancel(ctx, input.ID); err != nil {
		return nil, serviceError(err, "failed to cancel video")
	}
	out := &CancelVideoOutput{}
	out.Body.Cancelled = true
	out.Body.VideoID = input.ID
	return out, nil
}

// serveFrame streams one frame image. Annotated overlays are addressed
// as annotated/<name>, matching the names in the frames listing.
func (h *VideoHandler) serveFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "*")

	path, err := h.videos.ResolveFrameFile(r.Context(), id, name)
	if err != nil {
		writeRawError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

// serveVideo streams the stored original video.
func (h *VideoHandler) serveVideo(w http.ResponseWriter, r *http.Request) {
	path, filename, err := h.videos.VideoFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRawError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, path)
}

func writeRawError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var statusErr huma.StatusError
	if errors.As(serviceError(err, "request failed"), &statusErr) {
		status = statusErr.GetStatus()
	}
	http.Error(w, err.Error(), status)
}
