package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go-comfy-model-manager/internal/helpers"
	"go-comfy-model-manager/internal/models"

	"github.com/shirou/gopsutil/v3/disk"
	log "github.com/sirupsen/logrus"
)

// ErrLayout is returned when the layout root is missing or unusable.
var ErrLayout = errors.New("layout root not found")

// MetadataFilename marks a directory as a managed model. Writing it is the
// commit point of a download; directories without it are untracked.
const MetadataFilename = "metadata.json"

// Manager routes models into the category tree under the layout root and
// answers questions about what is on disk.
type Manager struct {
	ComfyPath string
}

func NewManager(comfyPath string) *Manager {
	return &Manager{ComfyPath: comfyPath}
}

// ModelFolder resolves (and creates) the directory for a model:
// comfy_path/typeDir/baseModel/sanitize(name). Unknown types land in the
// "other" category.
func (m *Manager) ModelFolder(info *models.ModelInfo) (string, error) {
	if m.ComfyPath == "" {
		return "", fmt.Errorf("%w: comfy_path is not configured", ErrLayout)
	}
	if _, err := os.Stat(m.ComfyPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrLayout, m.ComfyPath)
	}

	dir := filepath.Join(m.ComfyPath, models.TypeDir(info.Type), info.BaseModel, helpers.SanitizeName(info.Name))
	if !helpers.CheckAndMakeDir(dir) {
		return "", fmt.Errorf("%w: could not create %s", ErrLayout, dir)
	}
	return dir, nil
}

// categoryDirs returns the unique category directory names.
func categoryDirs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, dir := range models.ModelTypeDirs {
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		out = append(out, dir)
	}
	return out
}

// Scan walks every category directory for metadata.json files and returns
// the parsed records, each stamped with its containing directory. Unreadable
// files are logged and skipped.
func (m *Manager) Scan() []models.ModelInfo {
	if m.ComfyPath == "" {
		log.Error("Layout root not configured, nothing to scan")
		return nil
	}

	var found []models.ModelInfo
	for _, category := range categoryDirs() {
		root := filepath.Join(m.ComfyPath, category)
		if _, err := os.Stat(root); err != nil {
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.WithError(err).Warnf("Skipping unreadable path %s", path)
				return nil
			}
			if d.IsDir() || d.Name() != MetadataFilename {
				return nil
			}

			data, readErr := os.ReadFile(path)
			if readErr != nil {
				log.WithError(readErr).Warnf("Skipping unreadable metadata file %s", path)
				return nil
			}
			var info models.ModelInfo
			if jsonErr := json.Unmarshal(data, &info); jsonErr != nil {
				log.WithError(jsonErr).Warnf("Skipping malformed metadata file %s", path)
				return nil
			}
			if info.ID == 0 || info.Name == "" {
				log.Debugf("Ignoring metadata file without id/name: %s", path)
				return nil
			}
			info.Path = filepath.Dir(path)
			found = append(found, info)
			return nil
		})
		if err != nil {
			log.WithError(err).Warnf("Error walking category %s", root)
		}
	}
	return found
}

// FolderSize sums the bytes of every file under path.
func (m *Manager) FolderSize(path string) int64 {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if fi, statErr := d.Info(); statErr == nil {
			total += fi.Size()
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Warnf("Error calculating folder size for %s", path)
	}
	return total
}

// Usage reports the total and free bytes of the filesystem containing the
// layout root plus an aggregated per-category byte count. LORA and LoCon
// share the LoRAs bucket; TextualInversion surfaces as Embeddings.
func (m *Manager) Usage() (total uint64, free uint64, categories map[string]uint64, err error) {
	if m.ComfyPath == "" {
		return 0, 0, nil, fmt.Errorf("%w: comfy_path is not configured", ErrLayout)
	}
	stat, err := disk.Usage(m.ComfyPath)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to get disk usage for %s: %w", m.ComfyPath, err)
	}

	displayNames := map[string]string{
		"checkpoints":    "Checkpoints",
		"loras":          "LoRAs",
		"embeddings":     "Embeddings",
		"vae":            "VAEs",
		"controlnet":     "ControlNet",
		"upscale_models": "Upscalers",
		"other":          "Other",
	}

	categories = make(map[string]uint64)
	for _, category := range categoryDirs() {
		dir := filepath.Join(m.ComfyPath, category)
		if _, statErr := os.Stat(dir); statErr != nil {
			continue
		}
		name, ok := displayNames[category]
		if !ok {
			name = "Other"
		}
		categories[name] += uint64(m.FolderSize(dir))
	}

	return stat.Total, stat.Free, categories, nil
}

// Delete removes a model directory (or single file) tree.
func (m *Manager) Delete(path string) bool {
	if _, err := os.Stat(path); err != nil {
		log.WithError(err).Errorf("Delete target does not exist: %s", path)
		return false
	}
	if err := os.RemoveAll(path); err != nil {
		log.WithError(err).Errorf("Error deleting %s", path)
		return false
	}
	log.Infof("Deleted: %s", path)
	return true
}

// FindPath locates the directory of a managed model. The deterministic
// sanitized path is tried first; failing that, the category is scanned for a
// metadata.json with a matching id.
func (m *Manager) FindPath(id int, modelType, baseModel, name string) (string, bool) {
	if m.ComfyPath == "" {
		return "", false
	}

	direct := filepath.Join(m.ComfyPath, models.TypeDir(modelType), baseModel, helpers.SanitizeName(name))
	if _, err := os.Stat(direct); err == nil {
		return direct, true
	}

	root := filepath.Join(m.ComfyPath, models.TypeDir(modelType))
	var found string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if d.IsDir() || d.Name() != MetadataFilename {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		var info models.ModelInfo
		if json.Unmarshal(data, &info) == nil && info.ID == id {
			found = filepath.Dir(path)
		}
		return nil
	})
	return found, found != ""
}

// DuplicateGroup is a set of managed models sharing (name, type, baseModel).
type DuplicateGroup struct {
	Name      string
	Type      string
	BaseModel string
	Models    []models.ModelInfo
}

// FindDuplicates groups scanned models by (name, type, baseModel) and
// returns the groups with two or more members. Two versions of the same
// model collide under this definition.
func (m *Manager) FindDuplicates() []DuplicateGroup {
	groups := make(map[string][]models.ModelInfo)
	var order []string
	for _, info := range m.Scan() {
		key := strings.Join([]string{info.Name, info.Type, info.BaseModel}, "|")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], info)
	}

	var out []DuplicateGroup
	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		out = append(out, DuplicateGroup{
			Name:      members[0].Name,
			Type:      members[0].Type,
			BaseModel: members[0].BaseModel,
			Models:    members,
		})
	}
	return out
}

// OrphanFile is a model-like file with no sibling metadata.json.
type OrphanFile struct {
	Path string
	Name string
	Size int64
}

// FindOrphans lists files under the category directories that carry a known
// model extension but whose directory holds no metadata.json.
func (m *Manager) FindOrphans() []OrphanFile {
	if m.ComfyPath == "" {
		return nil
	}

	var orphans []OrphanFile
	for _, category := range categoryDirs() {
		root := filepath.Join(m.ComfyPath, category)
		if _, err := os.Stat(root); err != nil {
			continue
		}

		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !models.IsModelFile(d.Name()) {
				return nil
			}
			if _, statErr := os.Stat(filepath.Join(filepath.Dir(path), MetadataFilename)); statErr == nil {
				return nil
			}
			var size int64
			if fi, infoErr := d.Info(); infoErr == nil {
				size = fi.Size()
			}
			orphans = append(orphans, OrphanFile{Path: path, Name: d.Name(), Size: size})
			return nil
		})
	}
	return orphans
}

// ExportDetail is the per-path outcome of an Export call.
type ExportDetail struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ExportResult summarizes an Export call.
type ExportResult struct {
	SuccessCount int            `json:"successCount"`
	FailedCount  int            `json:"failedCount"`
	Details      []ExportDetail `json:"details"`
}

// Export copies each path (directory or file) into dest, preserving the leaf
// name. Failures are recorded per path and do not stop the batch.
func (m *Manager) Export(paths []string, dest string) ExportResult {
	result := ExportResult{}

	if !helpers.CheckAndMakeDir(dest) {
		for _, p := range paths {
			result.FailedCount++
			result.Details = append(result.Details, ExportDetail{Path: p, Success: false, Error: "could not create export destination"})
		}
		return result
	}

	for _, p := range paths {
		target := filepath.Join(dest, filepath.Base(p))
		if err := copyTree(p, target); err != nil {
			log.WithError(err).Errorf("Failed to export %s", p)
			result.FailedCount++
			result.Details = append(result.Details, ExportDetail{Path: p, Success: false, Error: err.Error()})
			continue
		}
		result.SuccessCount++
		result.Details = append(result.Details, ExportDetail{Path: p, Success: true})
	}
	return result
}

// copyTree copies a file or directory tree from src to dst.
func copyTree(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return copyFile(src, dst, fi.Mode())
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0700)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// CountByType tallies the scanned models per type.
func (m *Manager) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, info := range m.Scan() {
		t := info.Type
		if t == "" {
			t = "Other"
		}
		counts[t]++
	}
	return counts
}
