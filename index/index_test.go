package index

import (
	"path/filepath"
	"testing"

	"go-comfy-model-manager/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAndSearch(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "models.bleve")

	idx, err := OpenOrCreateIndex(indexPath)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, IndexModel(idx, models.ModelInfo{
		ID: 1, VersionID: 10, Name: "Watercolor Style", Type: "LORA",
		BaseModel: "SDXL", Creator: "painter", Tags: []string{"style", "watercolor"},
		Path: "/data/loras/SDXL/Watercolor_Style",
	}))
	require.NoError(t, IndexModel(idx, models.ModelInfo{
		ID: 2, VersionID: 20, Name: "Photoreal Checkpoint", Type: "Checkpoint",
		BaseModel: "SD1.5", Creator: "photographer",
	}))

	results, err := SearchIndex(idx, "watercolor")
	require.NoError(t, err)
	require.EqualValues(t, 1, results.Total)
	assert.Equal(t, "m_1_v10", results.Hits[0].ID)
	assert.Equal(t, "Watercolor Style", results.Hits[0].Fields["name"])

	results, err = SearchIndex(idx, "+baseModel:SD1.5")
	require.NoError(t, err)
	require.EqualValues(t, 1, results.Total)
	assert.Equal(t, "m_2_v20", results.Hits[0].ID)
}

func TestIndexUpsert(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "models.bleve")
	idx, err := OpenOrCreateIndex(indexPath)
	require.NoError(t, err)
	defer idx.Close()

	info := models.ModelInfo{ID: 1, VersionID: 10, Name: "First Name", Type: "LORA"}
	require.NoError(t, IndexModel(idx, info))
	info.Name = "Renamed Model"
	require.NoError(t, IndexModel(idx, info))

	results, err := SearchIndex(idx, "Renamed")
	require.NoError(t, err)
	assert.EqualValues(t, 1, results.Total)

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "re-indexing the same id replaces the document")
}
