package webui

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"ai_workspace/outputs"
	"ai_workspace/pipeline"
	"ai_workspace/sdruntime"
)

// GenerateResponse is the reply of the blocking POST /api/generate.
type GenerateResponse struct {
	Success        bool             `json:"success"`
	RequestID      string           `json:"request_id"`
	Images         []GeneratedImage `json:"images"`
	GenerationTime float64          `json:"generation_time"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
}

// GeneratedImage is one image of a GenerateResponse. Filename and URL are
// set only when auto-save stored the image.
type GeneratedImage struct {
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data"`
}

// handleGenerate runs one image request to completion and returns every
// image inline. Progress is not reported; clients that want it use /ws.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var p imagePayload
	if !decodeBody(w, r, &p) {
		return
	}

	var last pipeline.ProgressEvent
	err := s.track(r.Context(), "api.generate", func(ctx context.Context) error {
		stream, err := s.engine.Image().Run(ctx, p.request())
		if err != nil {
			return err
		}
		last = pipeline.Wait(stream)
		return last.Err
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	result := last.Result
	if result == nil {
		s.writeEngineError(w, errors.New("generation finished without a result"))
		return
	}

	resp := GenerateResponse{
		Success:        true,
		RequestID:      result.RequestID,
		GenerationTime: result.Elapsed.Seconds(),
		Metadata:       result.Metadata,
	}
	for i, png := range result.Images {
		img := GeneratedImage{Data: sdruntime.PNGDataURL(png)}
		if i < len(result.Files) {
			img.Filename = result.Files[i]
			img.URL = "/api/outputs/" + url.PathEscape(result.Files[i])
		}
		resp.Images = append(resp.Images, img)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOutput serves a saved image by file name. Names with separators or
// dot segments are rejected before touching the filesystem.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	f, info, err := s.engine.Outputs().Open(name)
	switch {
	case errors.Is(err, outputs.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid file name")
		return
	case errors.Is(err, outputs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	case err != nil:
		s.logger.Error("failed to open output", zap.String("file", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to open file")
		return
	}
	defer f.Close()
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
