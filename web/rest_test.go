package web

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/errors"
)

func TestPublisherResource(t *testing.T) {
	b, factory := newTestBuilder(t)

	h, err := b.BuildTree(map[string]*config.Path{
		"publish": {Type: config.PathPublisher, Realm: "realm1"},
	})
	require.NoError(t, err)
	sess := factory.lastAdded()
	require.NotNil(t, sess)

	t.Run("post publishes", func(t *testing.T) {
		body := strings.NewReader(`{"topic":"com.example.heartbeat","args":[1,2]}`)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/publish", body))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "id")

		pubs := sess.publications()
		require.Len(t, pubs, 1)
		assert.Equal(t, "com.example.heartbeat", pubs[0].topic)
	})

	t.Run("get rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/publish", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("missing topic rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/publish", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCallerResource(t *testing.T) {
	b, factory := newTestBuilder(t)

	h, err := b.BuildTree(map[string]*config.Path{
		"call": {Type: config.PathCaller, Realm: "realm1"},
	})
	require.NoError(t, err)
	sess := factory.lastAdded()
	require.NotNil(t, sess)
	sess.callReply = []byte(`{"sum":3}`)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"procedure":"com.example.add","args":[1,2]}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/call", body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sum":3}`, rec.Body.String())

	sess.callErr = errors.New(errors.CodeRuntime, "boom")
	rec = httptest.NewRecorder()
	body = strings.NewReader(`{"procedure":"com.example.add"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/call", body))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWebhookResource(t *testing.T) {
	b, factory := newTestBuilder(t)

	h, err := b.BuildTree(map[string]*config.Path{
		"hook": {Type: config.PathWebhook, Realm: "realm1", Topic: "com.example.deploy"},
	})
	require.NoError(t, err)
	sess := factory.lastAdded()
	require.NotNil(t, sess)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("payload"))
	req.Header.Set("X-Event", "push")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	pubs := sess.publications()
	require.Len(t, pubs, 1)
	assert.Equal(t, "com.example.deploy", pubs[0].topic)
	event := pubs[0].payload.(map[string]any)
	assert.Equal(t, http.MethodPost, event["method"])
	assert.Equal(t, "payload", event["body"])
}

func TestUploadResource(t *testing.T) {
	b, factory := newTestBuilder(t)

	uploadDir := filepath.Join(b.deps.WorkDir, "uploads")
	tempDir := filepath.Join(b.deps.WorkDir, "tmp")
	require.NoError(t, os.MkdirAll(uploadDir, 0o755))
	require.NoError(t, os.MkdirAll(tempDir, 0o755))

	h, err := b.BuildTree(map[string]*config.Path{
		"upload": {
			Type:          config.PathUpload,
			Realm:         "realm1",
			Directory:     "uploads",
			TempDirectory: "tmp",
			FormFields:    []string{"file"},
		},
	})
	require.NoError(t, err)
	sess := factory.lastAdded()
	require.NotNil(t, sess)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "report.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	data, err := os.ReadFile(filepath.Join(uploadDir, "report.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	pubs := sess.publications()
	require.Len(t, pubs, 2)
	assert.Equal(t, uploadProgressTopic, pubs[0].topic)
	assert.Equal(t, map[string]string{"id": "report.csv", "status": "started"}, pubs[0].payload)
	assert.Equal(t, map[string]string{"id": "report.csv", "status": "finished"}, pubs[1].payload)
}

func TestUploadIgnoresUnknownFields(t *testing.T) {
	b, _ := newTestBuilder(t)

	uploadDir := filepath.Join(b.deps.WorkDir, "uploads")
	require.NoError(t, os.MkdirAll(uploadDir, 0o755))

	h, err := b.BuildTree(map[string]*config.Path{
		"upload": {
			Type:       config.PathUpload,
			Realm:      "realm1",
			Directory:  "uploads",
			FormFields: []string{"file"},
		},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("sneaky", "evil.sh")
	require.NoError(t, err)
	_, err = fw.Write([]byte("#!/bin/sh\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = os.Stat(filepath.Join(uploadDir, "evil.sh"))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadMissingDirectoryFailsBuild(t *testing.T) {
	b, _ := newTestBuilder(t)

	_, err := b.Build(&config.Path{
		Type:       config.PathUpload,
		Realm:      "realm1",
		Directory:  "missing",
		FormFields: []string{"file"},
	}, true)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfiguration))
}
