package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	announceURLs        []string
	torrentModelIDs     []int
	torrentOutputDir    string
	overwriteTorrents   bool
	generateMagnetLinks bool
)

// torrentJob carries one model directory through the worker pool.
type torrentJob struct {
	SourcePath string
	LogFields  log.Fields
}

var torrentCmd = &cobra.Command{
	Use:   "torrent",
	Short: "Generate .torrent files for managed model directories",
	Long: `Generates BitTorrent metainfo (.torrent) files for models already present
in the layout tree, so they can be shared out of band. Tracker announce URLs
are required.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(announceURLs) == 0 {
			return errors.New("at least one --announce URL is required")
		}
		store, err := layoutManager()
		if err != nil {
			return err
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = 4
		}

		idSet := make(map[int]struct{}, len(torrentModelIDs))
		for _, id := range torrentModelIDs {
			idSet[id] = struct{}{}
		}

		var successCounter, failureCounter atomic.Int64
		jobs := make(chan torrentJob)
		var wg sync.WaitGroup
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for job := range jobs {
					if genErr := generateTorrentFile(job.SourcePath, announceURLs, torrentOutputDir, overwriteTorrents, generateMagnetLinks); genErr != nil {
						log.WithFields(job.LogFields).WithError(genErr).Errorf("Worker %d: failed to generate torrent", id)
						failureCounter.Add(1)
					} else {
						successCounter.Add(1)
					}
				}
			}(i)
		}

		queued := 0
		for _, info := range store.Scan() {
			if len(idSet) > 0 {
				if _, wanted := idSet[info.ID]; !wanted {
					continue
				}
			}
			jobs <- torrentJob{
				SourcePath: info.Path,
				LogFields:  log.Fields{"modelID": info.ID, "versionID": info.VersionID, "directory": info.Path},
			}
			queued++
		}
		close(jobs)
		wg.Wait()

		log.Infof("Torrent generation complete. Queued: %d, Success: %d, Failed: %d",
			queued, successCounter.Load(), failureCounter.Load())
		if failureCounter.Load() > 0 {
			return fmt.Errorf("%d torrent(s) failed to generate", failureCounter.Load())
		}
		return nil
	},
}

// generateTorrentFile creates a .torrent file for a model directory and
// optionally a sibling magnet-link file.
func generateTorrentFile(sourcePath string, trackers []string, outputDir string, overwrite bool, magnet bool) error {
	stat, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("error stating source path %s: %w", sourcePath, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("source path is not a directory: %s", sourcePath)
	}

	torrentFileName := fmt.Sprintf("%s.torrent", filepath.Base(sourcePath))
	outPath := filepath.Join(sourcePath, torrentFileName)
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("error creating output directory %s: %w", outputDir, err)
		}
		outPath = filepath.Join(outputDir, torrentFileName)
	}

	if !overwrite {
		if _, err := os.Stat(outPath); err == nil {
			log.WithField("path", outPath).Info("Skipping existing torrent file (use --overwrite to replace)")
			return nil
		}
	}

	mi := metainfo.MetaInfo{
		AnnounceList: make([][]string, len(trackers)),
		CreatedBy:    "comfy-model-manager",
	}
	for i, tracker := range trackers {
		mi.AnnounceList[i] = []string{tracker}
	}
	mi.Announce = trackers[0]

	info := metainfo.Info{PieceLength: 512 * 1024}
	if err := info.BuildFromFilePath(sourcePath); err != nil {
		return fmt.Errorf("error building torrent info from %s: %w", sourcePath, err)
	}
	if mi.InfoBytes, err = bencode.Marshal(info); err != nil {
		return fmt.Errorf("error marshaling torrent info: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("error creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		return fmt.Errorf("error writing torrent file %s: %w", outPath, err)
	}
	log.WithField("path", outPath).Info("Generated torrent file")

	if magnet {
		infoHash := mi.HashInfoBytes()
		parts := []string{
			fmt.Sprintf("magnet:?xt=urn:btih:%s", infoHash.HexString()),
			fmt.Sprintf("dn=%s", url.QueryEscape(stat.Name())),
		}
		for _, tracker := range trackers {
			parts = append(parts, fmt.Sprintf("tr=%s", url.QueryEscape(tracker)))
		}
		magnetPath := strings.TrimSuffix(outPath, ".torrent") + "-magnet.txt"
		if err := os.WriteFile(magnetPath, []byte(strings.Join(parts, "&")), 0644); err != nil {
			log.WithError(err).WithField("path", magnetPath).Error("Failed to write magnet link file")
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(torrentCmd)

	torrentCmd.Flags().StringSliceVar(&announceURLs, "announce", []string{}, "Tracker announce URL (repeatable)")
	torrentCmd.Flags().IntSliceVar(&torrentModelIDs, "model-id", []int{}, "Only generate torrents for these model IDs")
	torrentCmd.Flags().StringVarP(&torrentOutputDir, "output-dir", "o", "", "Directory for generated .torrent files (default: inside each model directory)")
	torrentCmd.Flags().BoolVar(&overwriteTorrents, "overwrite", false, "Overwrite existing .torrent files")
	torrentCmd.Flags().BoolVar(&generateMagnetLinks, "magnet-links", false, "Write a magnet link file alongside each .torrent")
	torrentCmd.Flags().IntP("concurrency", "c", 4, "Concurrent torrent generation workers")
}
