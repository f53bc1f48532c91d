package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeDir(t *testing.T) {
	tests := []struct {
		modelType string
		want      string
	}{
		{"Checkpoint", "checkpoints"},
		{"LORA", "loras"},
		{"LoCon", "loras"},
		{"TextualInversion", "embeddings"},
		{"VAE", "vae"},
		{"Controlnet", "controlnet"},
		{"Upscaler", "upscale_models"},
		{"Other", "other"},
		{"SomethingUnknown", "other"},
		{"", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeDir(tt.modelType), "TypeDir(%q)", tt.modelType)
	}
}

func TestIsModelFile(t *testing.T) {
	assert.True(t, IsModelFile("foo.safetensors"))
	assert.True(t, IsModelFile("foo.ckpt"))
	assert.True(t, IsModelFile("dir/foo.pt"))
	assert.True(t, IsModelFile("foo.pth"))
	assert.False(t, IsModelFile("foo.png"))
	assert.False(t, IsModelFile("metadata.json"))
	assert.False(t, IsModelFile("safetensors"))
}

func TestReactionScore(t *testing.T) {
	s := ImageStats{LikeCount: 3, HeartCount: 2, LaughCount: 1}
	assert.Equal(t, 6, s.ReactionScore())
	assert.Zero(t, ImageStats{}.ReactionScore())
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, IsTerminalStatus(StatusCompleted))
	assert.True(t, IsTerminalStatus(StatusFailed))
	assert.True(t, IsTerminalStatus(StatusCanceled))
	assert.False(t, IsTerminalStatus(StatusQueued))
	assert.False(t, IsTerminalStatus(StatusDownloading))
}

func TestTaskDuration(t *testing.T) {
	var task DownloadTask
	assert.Zero(t, task.Duration())

	task.StartTime = time.Now().Add(-2 * time.Second)
	assert.Greater(t, task.Duration(), time.Second)

	task.EndTime = task.StartTime.Add(5 * time.Second)
	assert.Equal(t, 5*time.Second, task.Duration())
}

func TestModelInfoJSONRoundTrip(t *testing.T) {
	info := ModelInfo{
		ID: 1, VersionID: 2, Name: "n", Type: "LORA", BaseModel: "SDXL",
		Creator: "c", VersionName: "v", Description: "d",
		Tags:        []string{"x", "y"},
		DownloadUrl: "https://dl", Size: 123,
		Images: []ImageInfo{{
			URL: "https://img", Nsfw: true,
			Meta: ImageMeta{Prompt: "p", Model: "m", Resources: []MetaResource{{Type: "lora", Name: "r"}}},
			Stats: ImageStats{LikeCount: 1, HeartCount: 2, LaughCount: 3},
			LocalPath: "/tmp/img.png",
		}},
		Thumbnail: "/tmp/img.png", DownloadDate: "2024-01-01 10:00:00",
		LastUpdated: "2024-01-01 10:00:00", Path: "/tmp",
	}

	data, err := json.Marshal(info)
	require.NoError(t, err)

	// The wire format uses the documented camelCase field names.
	for _, field := range []string{`"id"`, `"versionId"`, `"baseModel"`, `"versionName"`, `"downloadUrl"`, `"localPath"`, `"likeCount"`, `"downloadDate"`, `"lastUpdated"`} {
		assert.Contains(t, string(data), field)
	}

	var back ModelInfo
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, info, back)
}
