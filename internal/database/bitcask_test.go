package database

import (
	"path/filepath"
	"testing"

	"go-comfy-model-manager/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "catalog", "models.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetModel(t *testing.T) {
	db := openTestDB(t)

	info := &models.ModelInfo{
		ID: 42, VersionID: 420, Name: "Cataloged", Type: "LORA", BaseModel: "SDXL",
		Tags:   []string{"a", "b"},
		Images: []models.ImageInfo{{URL: "https://img/x.png"}},
	}
	require.NoError(t, db.PutModel(info))

	got, err := db.GetModel(42, 420)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestGetModelNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetModel(1, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteModel(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.PutModel(&models.ModelInfo{ID: 1, VersionID: 2, Name: "x"}))
	require.NoError(t, db.DeleteModel(1, 2))
	_, err := db.GetModel(1, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.DeleteModel(1, 2), ErrNotFound)
}

func TestListModels(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.PutModel(&models.ModelInfo{ID: 1, VersionID: 10, Name: "one"}))
	require.NoError(t, db.PutModel(&models.ModelInfo{ID: 2, VersionID: 20, Name: "two"}))
	// Non-model keys are skipped.
	require.NoError(t, db.Put([]byte("state_x"), []byte("1")))

	list, err := db.ListModels()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestReplaceAll(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.PutModel(&models.ModelInfo{ID: 1, VersionID: 10, Name: "stale"}))

	require.NoError(t, db.ReplaceAll([]models.ModelInfo{
		{ID: 2, VersionID: 20, Name: "fresh-a"},
		{ID: 3, VersionID: 30, Name: "fresh-b"},
	}))

	list, err := db.ListModels()
	require.NoError(t, err)
	require.Len(t, list, 2)
	_, err = db.GetModel(1, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValuesCompressedTransparently(t *testing.T) {
	db := openTestDB(t)
	big := make([]byte, 64*1024)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, db.Put([]byte("blob"), big))

	got, err := db.Get([]byte("blob"))
	require.NoError(t, err)
	assert.Equal(t, big, got)
}
