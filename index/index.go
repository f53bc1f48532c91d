package index

import (
	"fmt"
	"os"

	"go-comfy-model-manager/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "models.bleve"

// Item is the indexed projection of a catalog record. Fields are searchable
// by their JSON tag names (e.g. '+baseModel:SDXL' or '+tags:style').
type Item struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	BaseModel    string   `json:"baseModel"`
	CreatorName  string   `json:"creatorName,omitempty"`
	VersionName  string   `json:"versionName,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Path         string   `json:"path,omitempty"`
	DownloadDate string   `json:"downloadDate,omitempty"`
}

// FromModelInfo projects a catalog record into its indexable item.
func FromModelInfo(info models.ModelInfo) Item {
	return Item{
		ID:           fmt.Sprintf("m_%d_v%d", info.ID, info.VersionID),
		Name:         info.Name,
		Description:  info.Description,
		Type:         info.Type,
		BaseModel:    info.BaseModel,
		CreatorName:  info.Creator,
		VersionName:  info.VersionName,
		Tags:         info.Tags,
		Path:         info.Path,
		DownloadDate: info.DownloadDate,
	}
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		return bleve.New(indexPath, mapping)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Opened existing index at: %s", indexPath)
	return idx, nil
}

// IndexModel adds or updates a catalog record in the index.
func IndexModel(idx bleve.Index, info models.ModelInfo) error {
	item := FromModelInfo(info)
	return idx.Index(item.ID, item)
}

// SearchIndex runs a query-string search and returns all stored fields.
func SearchIndex(idx bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	return idx.Search(searchRequest)
}

// DeleteIndex removes the index directory.
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Infof("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
