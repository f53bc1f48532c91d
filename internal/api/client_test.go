package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-comfy-model-manager/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		modelID   int
		versionID int
		wantErr   bool
	}{
		{"Plain model URL", "https://civitai.com/models/12345", 12345, 0, false},
		{"Model with slug", "https://civitai.com/models/12345/some-model-name", 12345, 0, false},
		{"Query version", "https://civitai.com/models/12345?modelVersionId=999", 12345, 999, false},
		{"Slug and query version", "https://civitai.com/models/12345/name?modelVersionId=999", 12345, 999, false},
		{"Path version", "https://civitai.com/models/12345/versions/777", 12345, 777, false},
		{"No model id", "https://civitai.com/images/42", 0, 0, true},
		{"Garbage", "not a url at all", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modelID, versionID, err := ParseModelURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.modelID, modelID)
			assert.Equal(t, tt.versionID, versionID)
		})
	}
}

// newFakeRemote serves a minimal model + version + images API.
func newFakeRemote(t *testing.T, model models.ApiModel, version models.ApiModelVersion, pages []models.ImagePage) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/models/%d", model.ID), func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model)
	})
	mux.HandleFunc(fmt.Sprintf("/model-versions/%d", version.ID), func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(version)
	})
	page := 0
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		if page >= len(pages) {
			json.NewEncoder(w).Encode(models.ImagePage{})
			return
		}
		json.NewEncoder(w).Encode(pages[page])
		page++
	})
	return httptest.NewServer(mux)
}

func stats(likes, hearts, laughs int) models.ImageStats {
	return models.ImageStats{LikeCount: likes, HeartCount: hearts, LaughCount: laughs}
}

func TestFetchModelInfo(t *testing.T) {
	model := models.ApiModel{
		ID:          100,
		Name:        "Test Model",
		Description: "<p>Hello <b>world</b></p>",
		Type:        "LORA",
		Creator:     models.ApiCreator{Username: "someone"},
		ModelVersions: []models.ApiModelVersion{
			{ID: 500}, {ID: 400},
		},
	}
	version := models.ApiModelVersion{
		ID:           500,
		ModelId:      100,
		Name:         "v2.0",
		BaseModel:    "SDXL",
		TrainedWords: []string{"trigger", "trigger", "style"},
		DownloadUrl:  "https://remote/fallback",
		Files: []models.ApiFile{
			{Name: "model.ckpt", SizeKB: 1024, Primary: true, Metadata: models.ApiFileMeta{Format: "PickleTensor"}, DownloadUrl: "https://remote/ckpt"},
			{Name: "model.safetensors", SizeKB: 2048, Primary: true, Metadata: models.ApiFileMeta{Format: "SafeTensor"}, DownloadUrl: "https://remote/safetensors"},
		},
		Images: []models.ApiImage{
			{ID: 1, URL: "https://img/low.png", Stats: stats(1, 0, 0)},
			{ID: 2, URL: "https://img/high.png", Stats: stats(5, 5, 1)},
			{ID: 3, URL: "https://img/mid.png", Stats: stats(3, 0, 0)},
		},
	}

	srv := newFakeRemote(t, model, version, nil)
	defer srv.Close()

	c := NewClient("", 100, srv.Client())
	c.BaseUrl = srv.URL

	info, err := c.FetchModelInfo(context.Background(), 100, 0, 3)
	require.NoError(t, err)

	assert.Equal(t, 100, info.ID)
	assert.Equal(t, 500, info.VersionID, "latest version resolved when none pinned")
	assert.Equal(t, "Test Model", info.Name)
	assert.Equal(t, "LORA", info.Type)
	assert.Equal(t, "SDXL", info.BaseModel)
	assert.Equal(t, "someone", info.Creator)
	assert.Equal(t, "v2.0", info.VersionName)
	assert.Equal(t, "Hello world", info.Description, "HTML stripped")
	assert.Equal(t, []string{"trigger", "style"}, info.Tags, "tags deduplicated in order")
	assert.Equal(t, "https://remote/safetensors", info.DownloadUrl, "SafeTensor preferred")
	assert.Equal(t, int64(2048*1024), info.Size)

	require.Len(t, info.Images, 3)
	assert.Equal(t, "https://img/high.png", info.Images[0].URL)
	assert.Equal(t, "https://img/mid.png", info.Images[1].URL)
	assert.Equal(t, "https://img/low.png", info.Images[2].URL)
}

func TestFetchModelInfoImageTopUp(t *testing.T) {
	model := models.ApiModel{ID: 100, Name: "M", Type: "Checkpoint", ModelVersions: []models.ApiModelVersion{{ID: 500}}}
	version := models.ApiModelVersion{
		ID:        500,
		BaseModel: "SD1.5",
		Images: []models.ApiImage{
			{ID: 1, URL: "https://img/a.png", Stats: stats(9, 0, 0)},
		},
	}
	pages := []models.ImagePage{
		{
			Items: []models.ApiImage{
				{ID: 1, URL: "https://img/a.png", Stats: stats(9, 0, 0)}, // duplicate, dropped
				{ID: 2, URL: "https://img/b.png", Stats: stats(4, 0, 0)},
			},
			Metadata: models.PageMetadata{NextCursor: "next"},
		},
		{
			Items: []models.ApiImage{
				{ID: 3, URL: "https://img/c.png", Stats: stats(7, 0, 0)},
			},
		},
	}

	srv := newFakeRemote(t, model, version, pages)
	defer srv.Close()

	c := NewClient("", 2, srv.Client())
	c.BaseUrl = srv.URL

	info, err := c.FetchModelInfo(context.Background(), 100, 0, 3)
	require.NoError(t, err)

	require.Len(t, info.Images, 3)
	assert.Equal(t, "https://img/a.png", info.Images[0].URL)
	assert.Equal(t, "https://img/c.png", info.Images[1].URL)
	assert.Equal(t, "https://img/b.png", info.Images[2].URL)
}

func TestFetchModelInfoMaxImagesCap(t *testing.T) {
	var imgs []models.ApiImage
	for i := 0; i < 20; i++ {
		imgs = append(imgs, models.ApiImage{ID: i, URL: fmt.Sprintf("https://img/%d.png", i), Stats: stats(i, 0, 0)})
	}
	model := models.ApiModel{ID: 7, ModelVersions: []models.ApiModelVersion{{ID: 70}}}
	version := models.ApiModelVersion{ID: 70, Images: imgs}

	srv := newFakeRemote(t, model, version, nil)
	defer srv.Close()

	c := NewClient("", 100, srv.Client())
	c.BaseUrl = srv.URL

	info, err := c.FetchModelInfo(context.Background(), 7, 0, 9)
	require.NoError(t, err)
	assert.Len(t, info.Images, 9)
	assert.Equal(t, "https://img/19.png", info.Images[0].URL)
}

func TestFetchModelInfoErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"Not found", http.StatusNotFound, ErrNotFound},
		{"Unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"Forbidden", http.StatusForbidden, ErrUnauthorized},
		{"Rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"Server error", http.StatusInternalServerError, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient("key", 100, srv.Client())
			c.BaseUrl = srv.URL

			_, err := c.FetchModelInfo(context.Background(), 1, 0, 9)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("secret-token", 100, srv.Client())
	c.BaseUrl = srv.URL
	_, _ = c.FetchModelInfo(context.Background(), 1, 0, 1)

	assert.Equal(t, "Bearer secret-token", gotAuth)
}
