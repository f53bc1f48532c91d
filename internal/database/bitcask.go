package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go-comfy-model-manager/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the catalog.
var ErrNotFound = errors.New("key not found")

// gzipMagicBytes are the first two bytes of a gzip stream.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// DB is the local model catalog: one JSON-encoded ModelInfo per managed
// model, keyed by model and version id. Values are gzip-compressed on disk.
type DB struct {
	db *bitcask.Bitcask
	sync.RWMutex
}

// ModelKey builds the catalog key for a model/version pair.
func ModelKey(modelID, versionID int) []byte {
	return []byte(fmt.Sprintf("m_%d_v%d", modelID, versionID))
}

// Open initializes the catalog at path, creating parent directories.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database at %s: %w", path, err)
	}
	log.Infof("Catalog database opened at %s", path)
	return &DB{db: dbInstance}, nil
}

// Close safely closes the database.
func (d *DB) Close() error {
	d.Lock()
	defer d.Unlock()
	return d.db.Close()
}

// Has checks whether a key exists.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves and decompresses the value for key.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	value, err := d.db.Get(key)
	d.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}
	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair.
func (d *DB) Put(key []byte, value []byte) error {
	compressed, err := compressGzip(value)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.Lock()
	err = d.db.Put(key, compressed)
	d.Unlock()
	if err != nil {
		return fmt.Errorf("error putting key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	if !d.db.Has(key) {
		d.Unlock()
		return ErrNotFound
	}
	err := d.db.Delete(key)
	d.Unlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// Fold iterates over all entries with decompressed values.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	return d.db.Fold(func(key []byte) error {
		raw, err := d.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Fold: error getting value for key %s", string(key))
			return nil
		}
		value, err := decompressIfGzipped(raw)
		if err != nil {
			log.WithError(err).Warnf("Fold: error decompressing value for key %s", string(key))
			return nil
		}
		return fn(key, value)
	})
}

// PutModel upserts a ModelInfo record under its model/version key.
func (d *DB) PutModel(info *models.ModelInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("error marshalling catalog entry for %s: %w", info.Name, err)
	}
	return d.Put(ModelKey(info.ID, info.VersionID), data)
}

// GetModel fetches one ModelInfo record.
func (d *DB) GetModel(modelID, versionID int) (*models.ModelInfo, error) {
	data, err := d.Get(ModelKey(modelID, versionID))
	if err != nil {
		return nil, err
	}
	var info models.ModelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("error unmarshalling catalog entry: %w", err)
	}
	return &info, nil
}

// DeleteModel removes one ModelInfo record.
func (d *DB) DeleteModel(modelID, versionID int) error {
	return d.Delete(ModelKey(modelID, versionID))
}

// ListModels returns every catalog record. Malformed entries are logged and
// skipped.
func (d *DB) ListModels() ([]models.ModelInfo, error) {
	var out []models.ModelInfo
	err := d.Fold(func(key []byte, value []byte) error {
		if !bytes.HasPrefix(key, []byte("m_")) {
			return nil
		}
		var info models.ModelInfo
		if err := json.Unmarshal(value, &info); err != nil {
			log.WithError(err).Warnf("Skipping malformed catalog entry %s", string(key))
			return nil
		}
		out = append(out, info)
		return nil
	})
	return out, err
}

// ReplaceAll rewrites the catalog from a scan result: existing m_ keys are
// dropped first, then every record is inserted.
func (d *DB) ReplaceAll(infos []models.ModelInfo) error {
	var stale [][]byte
	err := d.Fold(func(key []byte, value []byte) error {
		if bytes.HasPrefix(key, []byte("m_")) {
			k := make([]byte, len(key))
			copy(k, key)
			stale = append(stale, k)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range stale {
		if delErr := d.Delete(key); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			return delErr
		}
	}
	for i := range infos {
		if putErr := d.PutModel(&infos[i]); putErr != nil {
			return putErr
		}
	}
	return nil
}

// --- Compression helpers ---

func decompressIfGzipped(value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, gzipMagicBytes) {
		return value, nil
	}
	gReader, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		log.WithError(err).Warn("Error creating gzip reader, returning raw data")
		return value, nil
	}
	defer gReader.Close()

	decompressed, err := io.ReadAll(gReader)
	if err != nil {
		log.WithError(err).Warn("Error decompressing value, returning raw data")
		return value, nil
	}
	return decompressed, nil
}

func compressGzip(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer: %w", err)
	}
	if _, err := gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data: %w", err)
	}
	if err := gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
