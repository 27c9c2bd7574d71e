package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vismatch/internal/fetch"
	"github.com/hyperjump/vismatch/internal/models"
	"github.com/hyperjump/vismatch/internal/storage"
)

type searchRequest struct {
	URL       string   `json:"url"`
	Threshold *float64 `json:"threshold,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	img, label, threshold, err := s.parseSearchRequest(w, r)
	if err != nil {
		s.respondKindError(w, err)
		return
	}
	s.logger.Debug("search request", zap.String("query", label), zap.Float64("threshold", threshold))

	matches, err := s.engine.SearchWithThreshold(r.Context(), img, threshold)
	if err != nil {
		s.respondKindError(w, err)
		return
	}
	if len(matches) == 0 {
		s.respondJSON(w, http.StatusNotFound, map[string]string{
			"message": fmt.Sprintf("No products found with similarity above %s%%", percent(threshold)),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, matches)
}

// parseSearchRequest reads a multipart upload (field "image") or a JSON body {"url": ...}.
// The threshold comes from the "threshold" query parameter, form field or JSON field,
// falling back to the engine default.
func (s *Server) parseSearchRequest(w http.ResponseWriter, r *http.Request) (image.Image, string, float64, error) {
	threshold := s.engine.Threshold()
	if v := r.URL.Query().Get("threshold"); v != "" {
		t, err := parseThreshold(v)
		if err != nil {
			return nil, "", 0, err
		}
		threshold = t
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes+(1<<20))
		if err := r.ParseMultipartForm(s.config.Server.MaxUploadBytes); err != nil {
			return nil, "", 0, models.InputError("parse upload", err)
		}
		if v := r.FormValue("threshold"); v != "" {
			t, err := parseThreshold(v)
			if err != nil {
				return nil, "", 0, err
			}
			threshold = t
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", 0, models.InputError("parse upload", errors.New("no image provided"))
		}
		defer file.Close()
		img, err := fetch.DecodeUpload(file, s.config.Server.MaxUploadBytes)
		if err != nil {
			return nil, "", 0, err
		}
		return img, header.Filename, threshold, nil
	}

	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		return nil, "", 0, models.InputError("parse request", errors.New("no image provided"))
	}
	if req.Threshold != nil {
		if err := checkThreshold(*req.Threshold); err != nil {
			return nil, "", 0, err
		}
		threshold = *req.Threshold
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, "", 0, models.InputError("parse request", errors.New("no image provided"))
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", 0, models.InputError("parse request", fmt.Errorf("url must be an absolute http(s) URL"))
	}
	img, err := s.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		return nil, "", 0, err
	}
	return img, req.URL, threshold, nil
}

func parseThreshold(v string) (float64, error) {
	t, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, models.InputError("parse threshold", err)
	}
	return t, checkThreshold(t)
}

func checkThreshold(t float64) error {
	if math.IsNaN(t) || t < -1 || t > 1 {
		return models.InputError("parse threshold", fmt.Errorf("threshold %v outside [-1, 1]", t))
	}
	return nil
}

// percent renders a threshold as a percentage without float noise (0.7 -> "70").
func percent(threshold float64) string {
	return strconv.FormatFloat(math.Round(threshold*10000)/100, 'f', -1, 64)
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrFetch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrEmbedding),
		errors.Is(err, models.ErrStoreNotLoaded),
		errors.Is(err, models.ErrStoreIntegrity):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondKindError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("search failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug("search rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"store_loaded": s.holder.Current() != nil,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{
		"threshold":      s.engine.Threshold(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if st := s.holder.Current(); st != nil {
		resp["products"] = st.Len()
		resp["dimensions"] = st.Dims()
	} else {
		resp["products"] = 0
		resp["store_loaded"] = false
	}

	paths := s.holder.Paths()
	artifacts, err := storage.StatArtifacts(paths.Files()...)
	if err != nil {
		s.logger.Warn("status: stat artifacts failed", zap.Error(err))
	} else {
		resp["artifacts"] = artifacts
	}
	diskBytes, err := storage.DiskUsageBytes(append(paths.Files(), s.config.Storage.DatabasePath)...)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}

	if s.ledger != nil {
		run, err := s.ledger.LatestRun(ctx)
		switch {
		case err == nil:
			resp["latest_run"] = run
		case errors.Is(err, storage.ErrRunNotFound):
		default:
			s.logger.Warn("status: latest run failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.holder.Reload(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrStoreIntegrity) {
			status = http.StatusConflict
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "reloaded",
		"products": s.holder.Current().Len(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
