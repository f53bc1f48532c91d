package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go-comfy-model-manager/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrInvalidURL   = errors.New("could not extract a model id from URL")
	ErrRateLimited  = errors.New("API rate limit exceeded")
	ErrUnauthorized = errors.New("API request unauthorized (check API key)")
	ErrNotFound     = errors.New("API resource not found")
	ErrServerError  = errors.New("API server error")
)

const DefaultBaseUrl = "https://civitai.com/api/v1"

var (
	// …/models/<id>?modelVersionId=<vid>
	reModelWithQueryVersion = regexp.MustCompile(`/models/(\d+).*?modelVersionId=(\d+)`)
	// …/models/<id>/versions/<vid>
	reModelWithPathVersion = regexp.MustCompile(`/models/(\d+)/versions/(\d+)`)
	// …/models/<id>
	reModelOnly = regexp.MustCompile(`/models/(\d+)`)

	reHtmlTag = regexp.MustCompile(`<[^>]*>`)
)

// ParseModelURL extracts the numeric model id and optional version id from a
// model page URL. versionID is 0 when the URL does not pin a version.
func ParseModelURL(raw string) (modelID int, versionID int, err error) {
	if m := reModelWithQueryVersion.FindStringSubmatch(raw); m != nil {
		modelID, _ = strconv.Atoi(m[1])
		versionID, _ = strconv.Atoi(m[2])
		return modelID, versionID, nil
	}
	if m := reModelWithPathVersion.FindStringSubmatch(raw); m != nil {
		modelID, _ = strconv.Atoi(m[1])
		versionID, _ = strconv.Atoi(m[2])
		return modelID, versionID, nil
	}
	if m := reModelOnly.FindStringSubmatch(raw); m != nil {
		modelID, _ = strconv.Atoi(m[1])
		return modelID, 0, nil
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
}

// Client talks to the remote model-hosting API. It is stateless apart from
// the bearer token and safe to share between workers.
type Client struct {
	BaseUrl        string
	ApiKey         string
	HttpClient     *http.Client
	FetchBatchSize int
}

// NewClient creates an API client. A nil httpClient gets a 30s-timeout default.
func NewClient(apiKey string, fetchBatchSize int, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if fetchBatchSize <= 0 {
		fetchBatchSize = 100
	}
	return &Client{
		BaseUrl:        DefaultBaseUrl,
		ApiKey:         apiKey,
		HttpClient:     httpClient,
		FetchBatchSize: fetchBatchSize,
	}
}

// getJSON performs a single GET (no retries) and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request for %s: %w", reqURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed for %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w (status code %d)", ErrServerError, resp.StatusCode)
	default:
		return fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		log.WithError(err).Errorf("Error unmarshalling response from %s", reqURL)
		return fmt.Errorf("error unmarshalling response JSON: %w", err)
	}
	return nil
}

// FetchModelInfo resolves a model id (and optional version id) into a
// populated ModelInfo. When versionID is 0 the latest version is used.
// Images are ranked by reaction score and capped at maxImages.
func (c *Client) FetchModelInfo(ctx context.Context, modelID, versionID, maxImages int) (*models.ModelInfo, error) {
	log.Infof("Fetching model information for model ID: %d", modelID)

	var model models.ApiModel
	if err := c.getJSON(ctx, fmt.Sprintf("%s/models/%d", c.BaseUrl, modelID), &model); err != nil {
		return nil, err
	}

	if versionID == 0 {
		if len(model.ModelVersions) == 0 {
			return nil, fmt.Errorf("%w: model %d has no versions", ErrNotFound, modelID)
		}
		versionID = model.ModelVersions[0].ID
		log.Debugf("Using latest version ID: %d", versionID)
	}

	var version models.ApiModelVersion
	if err := c.getJSON(ctx, fmt.Sprintf("%s/model-versions/%d", c.BaseUrl, versionID), &version); err != nil {
		return nil, err
	}

	primary := selectPrimaryFile(version.Files)

	downloadUrl := version.DownloadUrl
	var size int64
	var hashes models.Hashes
	if primary != nil {
		if primary.DownloadUrl != "" {
			downloadUrl = primary.DownloadUrl
		}
		size = int64(primary.SizeKB * 1024)
		hashes = primary.Hashes
	}

	images := convertImages(version.Images)
	if maxImages > 0 && len(images) < maxImages {
		more, err := c.fetchImagePages(ctx, modelID, versionID, maxImages)
		if err != nil {
			log.WithError(err).Warnf("Could not page additional images for model %d", modelID)
		} else {
			images = mergeImages(images, more)
		}
	}
	rankImages(images)
	if maxImages > 0 && len(images) > maxImages {
		images = images[:maxImages]
	}

	info := &models.ModelInfo{
		ID:          modelID,
		VersionID:   versionID,
		Name:        model.Name,
		Type:        model.Type,
		BaseModel:   version.BaseModel,
		Creator:     model.Creator.Username,
		VersionName: version.Name,
		Description: reHtmlTag.ReplaceAllString(model.Description, ""),
		Tags:        uniqueStrings(version.TrainedWords),
		DownloadUrl: downloadUrl,
		Hashes:      hashes,
		Size:        size,
		Images:      images,
	}
	if info.Type == "" {
		info.Type = "Other"
	}
	if info.BaseModel == "" {
		info.BaseModel = "unknown"
	}
	log.Infof("Fetched metadata for %q (%s, %s) with %d images", info.Name, info.Type, info.BaseModel, len(info.Images))
	return info, nil
}

// fetchImagePages walks the paginated /images endpoint until maxImages items
// have been gathered or the cursor runs out.
func (c *Client) fetchImagePages(ctx context.Context, modelID, versionID, maxImages int) ([]models.ApiImage, error) {
	var items []models.ApiImage
	cursor := ""
	for {
		values := url.Values{}
		values.Set("modelId", strconv.Itoa(modelID))
		values.Set("limit", strconv.Itoa(c.FetchBatchSize))
		if versionID > 0 {
			values.Set("modelVersionId", strconv.Itoa(versionID))
		}
		if cursor != "" {
			values.Set("cursor", cursor)
		}

		var page models.ImagePage
		if err := c.getJSON(ctx, fmt.Sprintf("%s/images?%s", c.BaseUrl, values.Encode()), &page); err != nil {
			return items, err
		}
		if len(page.Items) == 0 {
			return items, nil
		}
		items = append(items, page.Items...)
		log.Debugf("Fetched %d images (total: %d)", len(page.Items), len(items))

		if len(items) >= maxImages || page.Metadata.NextCursor == "" {
			return items, nil
		}
		cursor = page.Metadata.NextCursor
	}
}

// selectPrimaryFile picks the file to download: among the primary-flagged
// files (or all, when none are flagged) it prefers the SafeTensor
// serialization, falling back to the first entry.
func selectPrimaryFile(files []models.ApiFile) *models.ApiFile {
	if len(files) == 0 {
		return nil
	}
	candidates := files
	var flagged []models.ApiFile
	for _, f := range files {
		if f.Primary {
			flagged = append(flagged, f)
		}
	}
	if len(flagged) > 0 {
		candidates = flagged
	}
	for i := range candidates {
		if candidates[i].Metadata.Format == "SafeTensor" {
			return &candidates[i]
		}
	}
	return &candidates[0]
}

func convertImages(in []models.ApiImage) []models.ImageInfo {
	out := make([]models.ImageInfo, 0, len(in))
	for _, img := range in {
		out = append(out, models.ImageInfo{
			URL:  img.URL,
			Nsfw: img.Nsfw,
			Meta: models.ImageMeta{
				Prompt:    img.Meta.Prompt,
				Model:     img.Meta.Model,
				Resources: img.Meta.Resources,
			},
			Stats: img.Stats,
		})
	}
	return out
}

// mergeImages appends extras that are not already present, keyed by URL.
func mergeImages(base []models.ImageInfo, extras []models.ApiImage) []models.ImageInfo {
	seen := make(map[string]struct{}, len(base))
	for _, img := range base {
		seen[img.URL] = struct{}{}
	}
	for _, img := range convertImages(extras) {
		if _, ok := seen[img.URL]; ok {
			continue
		}
		seen[img.URL] = struct{}{}
		base = append(base, img)
	}
	return base
}

// rankImages sorts by reaction score descending, preserving server order on
// ties.
func rankImages(images []models.ImageInfo) {
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Stats.ReactionScore() > images[j].Stats.ReactionScore()
	})
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
