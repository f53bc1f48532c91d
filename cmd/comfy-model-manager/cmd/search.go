package cmd

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-comfy-model-manager/index"
	"go-comfy-model-manager/internal/storage"
)

var rebuildIndexFlag bool

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search managed models by name, tags, creator or base model",
	Long: `Runs a full-text query against the local model index. Query-string syntax
is supported, e.g. '+baseModel:SDXL portrait' or '+tags:style'.
Use --rebuild to re-index the tree before searching.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if globalConfig.ComfyPath == "" {
			return fmt.Errorf("comfy_path is not configured (--comfy-path or config file)")
		}

		indexPath := globalConfig.BleveIndexPath
		if rebuildIndexFlag {
			if err := index.DeleteIndex(indexPath); err != nil {
				log.WithError(err).Warn("Could not remove stale index")
			}
		}

		idx, err := index.OpenOrCreateIndex(indexPath)
		if err != nil {
			return fmt.Errorf("error opening index: %w", err)
		}
		defer idx.Close()

		if rebuildIndexFlag {
			store := storage.NewManager(globalConfig.ComfyPath)
			found := store.Scan()
			for _, info := range found {
				if idxErr := index.IndexModel(idx, info); idxErr != nil {
					log.WithError(idxErr).Warnf("Failed to index %s", info.Name)
				}
			}
			log.Infof("Indexed %d model(s)", len(found))
		}

		query := strings.Join(args, " ")
		results, err := index.SearchIndex(idx, query)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		fmt.Printf("%d match(es) for %q\n", results.Total, query)
		for _, hit := range results.Hits {
			name, _ := hit.Fields["name"].(string)
			modelType, _ := hit.Fields["type"].(string)
			baseModel, _ := hit.Fields["baseModel"].(string)
			path, _ := hit.Fields["path"].(string)
			fmt.Printf("%-40s %-12s %-10s %s\n", name, modelType, baseModel, path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().BoolVar(&rebuildIndexFlag, "rebuild", false, "Re-index the layout tree before searching")
}
