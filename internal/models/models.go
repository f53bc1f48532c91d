package models

import "path"

type (
	Config struct {
		// Paths
		ComfyPath      string `toml:"comfy_path"`
		DatabasePath   string `toml:"database_path"`
		BleveIndexPath string `toml:"bleve_index_path"`

		// Connection/Auth
		ApiKey string `toml:"api_key"`

		// Remote fetch behavior
		TopImageCount  int `toml:"top_image_count"`
		FetchBatchSize int `toml:"fetch_batch_size"`

		// Downloader behavior
		DownloadModel       bool `toml:"download_model"`
		DownloadImages      bool `toml:"download_images"`
		DownloadNsfw        bool `toml:"download_nsfw"`
		DownloadThreads     int  `toml:"download_threads"`
		ConcurrentDownloads int  `toml:"concurrent_downloads"`

		// Gallery output
		CreateHtml   bool `toml:"create_html"`
		AutoOpenHtml bool `toml:"auto_open_html"`

		// Other
		LogApiRequests      bool `toml:"log_api_requests"`
		ApiClientTimeoutSec int  `toml:"api_client_timeout_sec"`
	}

	// ModelInfo is the persisted record for one managed model directory.
	// It is created by the api client, enriched by the download pipeline
	// (local paths, thumbnail, timestamps) and serialized to metadata.json.
	ModelInfo struct {
		ID           int         `json:"id"`
		VersionID    int         `json:"versionId"`
		Name         string      `json:"name"`
		Type         string      `json:"type"`
		BaseModel    string      `json:"baseModel"`
		Creator      string      `json:"creator"`
		VersionName  string      `json:"versionName"`
		Description  string      `json:"description"`
		Tags         []string    `json:"tags"`
		DownloadUrl  string      `json:"downloadUrl"`
		Hashes       Hashes      `json:"hashes,omitempty"`
		Size         int64       `json:"size,omitempty"`
		Images       []ImageInfo `json:"images"`
		Thumbnail    string      `json:"thumbnail,omitempty"`
		DownloadDate string      `json:"downloadDate,omitempty"`
		LastUpdated  string      `json:"lastUpdated,omitempty"`
		Path         string      `json:"path,omitempty"`
	}

	// ImageInfo describes one preview image or video, ranked by reactions.
	ImageInfo struct {
		URL       string     `json:"url"`
		Nsfw      bool       `json:"nsfw"`
		Meta      ImageMeta  `json:"meta"`
		Stats     ImageStats `json:"stats"`
		LocalPath string     `json:"localPath,omitempty"`
	}

	ImageMeta struct {
		Prompt    string         `json:"prompt,omitempty"`
		Model     string         `json:"model,omitempty"`
		Resources []MetaResource `json:"resources,omitempty"`
	}

	MetaResource struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}

	ImageStats struct {
		LikeCount  int `json:"likeCount"`
		HeartCount int `json:"heartCount"`
		LaughCount int `json:"laughCount"`
	}

	// --- Remote API response structures ---

	ApiModel struct {
		ID            int               `json:"id"`
		Name          string            `json:"name"`
		Description   string            `json:"description"`
		Type          string            `json:"type"`
		Nsfw          bool              `json:"nsfw"`
		Creator       ApiCreator        `json:"creator"`
		Tags          []string          `json:"tags"`
		ModelVersions []ApiModelVersion `json:"modelVersions"`
	}

	ApiCreator struct {
		Username string `json:"username"`
	}

	ApiModelVersion struct {
		ID           int        `json:"id"`
		ModelId      int        `json:"modelId"`
		Name         string     `json:"name"`
		BaseModel    string     `json:"baseModel"`
		TrainedWords []string   `json:"trainedWords"`
		Files        []ApiFile  `json:"files"`
		Images       []ApiImage `json:"images"`
		DownloadUrl  string     `json:"downloadUrl"`
	}

	ApiFile struct {
		Name        string      `json:"name"`
		ID          int         `json:"id"`
		SizeKB      float64     `json:"sizeKB"`
		Type        string      `json:"type"`
		Metadata    ApiFileMeta `json:"metadata"`
		Hashes      Hashes      `json:"hashes"`
		DownloadUrl string      `json:"downloadUrl"`
		Primary     bool        `json:"primary"`
	}

	ApiFileMeta struct {
		Fp     string `json:"fp"`
		Size   string `json:"size"`
		Format string `json:"format"`
	}

	Hashes struct {
		SHA256 string `json:"SHA256"`
		BLAKE3 string `json:"BLAKE3"`
	}

	ApiImage struct {
		ID    int          `json:"id"`
		URL   string       `json:"url"`
		Nsfw  bool         `json:"nsfw"`
		Stats ImageStats   `json:"stats"`
		Meta  ApiImageMeta `json:"meta"`
	}

	ApiImageMeta struct {
		Prompt    string         `json:"prompt"`
		Model     string         `json:"Model"`
		Resources []MetaResource `json:"resources"`
	}

	// ImagePage is the paginated /images endpoint response.
	ImagePage struct {
		Items    []ApiImage   `json:"items"`
		Metadata PageMetadata `json:"metadata"`
	}

	PageMetadata struct {
		NextCursor string `json:"nextCursor,omitempty"`
		NextPage   string `json:"nextPage,omitempty"`
	}
)

// ReactionScore ranks an image: likes + hearts + laughs.
func (s ImageStats) ReactionScore() int {
	return s.LikeCount + s.HeartCount + s.LaughCount
}

// ModelTypeDirs maps a remote model type to its category directory under
// comfy_path. Unknown types route to the "Other" entry.
var ModelTypeDirs = map[string]string{
	"Checkpoint":       "checkpoints",
	"LORA":             "loras",
	"LoCon":            "loras",
	"TextualInversion": "embeddings",
	"VAE":              "vae",
	"Controlnet":       "controlnet",
	"Upscaler":         "upscale_models",
	"Other":            "other",
}

// TypeDir resolves the category directory for a model type.
func TypeDir(modelType string) string {
	if dir, ok := ModelTypeDirs[modelType]; ok {
		return dir
	}
	return ModelTypeDirs["Other"]
}

// ModelFileExtensions are the serialization formats recognized when looking
// for orphaned model files.
var ModelFileExtensions = []string{".ckpt", ".safetensors", ".pt", ".pth"}

// IsModelFile reports whether name carries a known model extension.
func IsModelFile(name string) bool {
	ext := path.Ext(name)
	for _, e := range ModelFileExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
