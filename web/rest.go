package web

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/errors"
	"github.com/Paranaix/crossbar/router"
)

// uploadProgressTopic carries upload lifecycle events published by upload
// resources on their realm.
const uploadProgressTopic = "upload.progress"

// publishRequest is the body accepted by publisher resources.
type publishRequest struct {
	Topic  string          `json:"topic"`
	Args   json.RawMessage `json:"args,omitempty"`
	Kwargs json.RawMessage `json:"kwargs,omitempty"`
}

// callRequest is the body accepted by caller resources.
type callRequest struct {
	Procedure string          `json:"procedure"`
	Args      json.RawMessage `json:"args,omitempty"`
	Kwargs    json.RawMessage `json:"kwargs,omitempty"`
}

func (b *Builder) buildPublisher(cfg *config.Path, _ bool) (http.Handler, error) {
	sess, err := b.newAttachedSession(cfg.Realm, cfg.Role)
	if err != nil {
		return nil, err
	}
	return exactPath(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req publishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" {
			writeRESTError(w, http.StatusBadRequest, "request body must be JSON with a 'topic'")
			return
		}
		if err := sess.Publish(r.Context(), req.Topic, map[string]any{
			"args":   req.Args,
			"kwargs": req.Kwargs,
		}); err != nil {
			writeRESTError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		writeJSON(w, map[string]string{"id": uuid.NewString()})
	})), nil
}

func (b *Builder) buildWebhook(cfg *config.Path, _ bool) (http.Handler, error) {
	sess, err := b.newAttachedSession(cfg.Realm, cfg.Role)
	if err != nil {
		return nil, err
	}
	topic := cfg.Topic
	return exactPath(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeRESTError(w, http.StatusBadRequest, "could not read request body")
			return
		}
		event := map[string]any{
			"method":  r.Method,
			"headers": r.Header,
			"body":    string(body),
		}
		if err := sess.Publish(r.Context(), topic, event); err != nil {
			writeRESTError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("OK"))
	})), nil
}

func (b *Builder) buildCaller(cfg *config.Path, _ bool) (http.Handler, error) {
	sess, err := b.newAttachedSession(cfg.Realm, cfg.Role)
	if err != nil {
		return nil, err
	}
	return exactPath(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req callRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Procedure == "" {
			writeRESTError(w, http.StatusBadRequest, "request body must be JSON with a 'procedure'")
			return
		}
		result, err := sess.Call(r.Context(), req.Procedure, map[string]any{
			"args":   req.Args,
			"kwargs": req.Kwargs,
		})
		if err != nil {
			writeRESTError(w, http.StatusBadGateway, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(result)
	})), nil
}

func (b *Builder) buildUpload(cfg *config.Path, _ bool) (http.Handler, error) {
	uploadDir := cfg.Directory
	if !filepath.IsAbs(uploadDir) {
		uploadDir = filepath.Join(b.deps.WorkDir, uploadDir)
	}
	if info, err := os.Stat(uploadDir); err != nil || !info.IsDir() {
		return nil, errors.New(errors.CodeInvalidConfiguration,
			"configured upload directory '%s' is not a directory", uploadDir)
	}

	tempDir := cfg.TempDirectory
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "crossbar-uploads")
		if err := os.MkdirAll(tempDir, 0o700); err != nil {
			return nil, errors.New(errors.CodeInvalidConfiguration,
				"could not create temp directory '%s': %v", tempDir, err)
		}
	} else if !filepath.IsAbs(tempDir) {
		tempDir = filepath.Join(b.deps.WorkDir, tempDir)
	}
	if info, err := os.Stat(tempDir); err != nil || !info.IsDir() {
		return nil, errors.New(errors.CodeInvalidConfiguration,
			"configured temp directory '%s' is not a directory", tempDir)
	}

	sess, err := b.newAttachedSession(cfg.Realm, cfg.Role)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]struct{}, len(cfg.FormFields))
	for _, f := range cfg.FormFields {
		fields[f] = struct{}{}
	}

	b.deps.Logger.Info("file upload resource started",
		"upload_dir", uploadDir, "temp_dir", tempDir)

	return exactPath(&uploadHandler{
		uploadDir: uploadDir,
		tempDir:   tempDir,
		fields:    fields,
		session:   sess,
	}), nil
}

// uploadHandler stages multipart uploads in the temp directory and moves
// completed files into the upload directory, publishing progress events.
type uploadHandler struct {
	uploadDir string
	tempDir   string
	fields    map[string]struct{}
	session   router.Session
}

func (h *uploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeRESTError(w, http.StatusBadRequest, "request must be multipart/form-data")
		return
	}

	var saved []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeRESTError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if _, ok := h.fields[part.FormName()]; !ok || part.FileName() == "" {
			continue
		}

		name := filepath.Base(part.FileName())
		h.notify(r, name, "started")
		if err := h.save(part, name); err != nil {
			h.notify(r, name, "failed")
			writeRESTError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.notify(r, name, "finished")
		saved = append(saved, name)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	writeJSON(w, map[string]any{"files": saved})
}

func (h *uploadHandler) save(part io.Reader, name string) error {
	tmp, err := os.CreateTemp(h.tempDir, name+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, part); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(h.uploadDir, name))
}

func (h *uploadHandler) notify(r *http.Request, file, status string) {
	// Progress events are best effort; upload handling never fails on them.
	_ = h.session.Publish(r.Context(), uploadProgressTopic, map[string]string{
		"id":     file,
		"status": status,
	})
}

// writeRESTError writes a REST-bridge error body.
func writeRESTError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message})
}
