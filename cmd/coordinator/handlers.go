package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dreamware/pjas/internal/activity"
	"github.com/dreamware/pjas/internal/cluster"
	"github.com/dreamware/pjas/internal/coordinator"
)

const (
	// multipartOverhead is headroom for boundaries and part headers on top
	// of the file size ceiling.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
	streamBuffer      = 64
)

func errorBody(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to a status and a generic body. Details
// that only matter to operators stay in the logs.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, coordinator.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, coordinator.ErrNotRegistered):
		status, msg = http.StatusNotFound, "node not registered"
	case errors.Is(err, coordinator.ErrFileNotFound):
		status, msg = http.StatusNotFound, "file not found"
	case errors.Is(err, coordinator.ErrFileNotReady):
		status, msg = http.StatusConflict, "file is still processing"
	case errors.Is(err, coordinator.ErrChunkUnavailable):
		msg = "file could not be reassembled"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody(msg))
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	node, err := s.coord.Registry.Register(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.coord.Log.Info("node registered", "node", node.ID, "address", node.Address,
		"free", activity.FormatBytes(node.StorageStats.FreeBytes))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "node_id": node.ID})
}

func (s *server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req cluster.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if _, err := s.coord.Registry.Heartbeat(req.NodeID, req.StorageStats); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Debug("heartbeat", "node", req.NodeID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.coord.Registry.ListAll()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "nodes": nodes, "count": len(nodes)})
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": s.coord.Stats()})
}

func (s *server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": s.coord.Log.Recent(s.cfg.LogsExposed)})
}

// handleLogStream upgrades to a websocket, replays the exposed backlog and
// then pushes every new activity entry until the client goes away.
func (s *server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("log stream upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	backlog, entries, cancel := s.coord.Log.SubscribeWithBacklog(s.cfg.LogsExposed, streamBuffer)
	defer cancel()

	// The read side only exists to notice the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, e := range backlog {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}
	for {
		select {
		case <-gone:
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

func (s *server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	files := s.coord.Files.List()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "files": files, "count": len(files)})
}

func (s *server) handleFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.coord.Files.Get(mux.Vars(r)["file_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "file": file})
}

// handleUpload accepts a multipart upload in field "file". The distribution
// runs to completion even if the client disconnects, so the file index never
// keeps a file stuck in processing.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("file too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("no file provided"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("no file provided"))
		return
	}
	defer part.Close()

	if header.Size > s.cfg.MaxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("file too large"))
		return
	}
	data, err := io.ReadAll(part)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("could not read file"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	file, err := s.coord.Upload(context.WithoutCancel(r.Context()), header.Filename, contentType, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"file_id":  file.ID,
		"filename": file.Name,
		"size":     file.Size,
		"status":   file.Status,
		"chunks":   len(file.Chunks),
	})
}

func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	file, data, err := s.coord.Download(r.Context(), mux.Vars(r)["file_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("download write failed", "file", file.ID, "err", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.coord.Registry.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"nodes":       stats.TotalNodes,
		"onlineNodes": stats.OnlineNodes,
	})
}

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"service": "coordinator", "status": "running"})
}
