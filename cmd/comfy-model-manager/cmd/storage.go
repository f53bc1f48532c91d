package cmd

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-comfy-model-manager/internal/database"
	"go-comfy-model-manager/internal/helpers"
	"go-comfy-model-manager/internal/storage"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect and maintain the model layout tree",
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the tree for managed models and refresh the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := layoutManager()
		if err != nil {
			return err
		}

		found := store.Scan()
		for _, info := range found {
			fmt.Printf("%-10d %-20s %-12s %s\n", info.ID, info.Type, info.BaseModel, info.Name)
		}
		fmt.Printf("%d managed model(s)\n", len(found))

		if globalConfig.DatabasePath != "" {
			db, dbErr := database.Open(globalConfig.DatabasePath)
			if dbErr != nil {
				return fmt.Errorf("error opening catalog: %w", dbErr)
			}
			defer db.Close()
			if repErr := db.ReplaceAll(found); repErr != nil {
				return fmt.Errorf("error refreshing catalog: %w", repErr)
			}
			log.Infof("Catalog refreshed with %d entries", len(found))
		}
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show disk usage per category",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := layoutManager()
		if err != nil {
			return err
		}

		total, free, categories, err := store.Usage()
		if err != nil {
			return err
		}

		names := make([]string, 0, len(categories))
		for name := range categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-12s %s\n", name, helpers.BytesToSize(categories[name]))
		}
		fmt.Printf("Disk: %s total, %s free\n", helpers.BytesToSize(total), helpers.BytesToSize(free))

		counts := store.CountByType()
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("%-18s %d model(s)\n", t, counts[t])
		}
		return nil
	},
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List models sharing (name, type, base model)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := layoutManager()
		if err != nil {
			return err
		}

		groups := store.FindDuplicates()
		if len(groups) == 0 {
			fmt.Println("No duplicates found")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%s (%s, %s):\n", g.Name, g.Type, g.BaseModel)
			for _, m := range g.Models {
				fmt.Printf("  version %-8d %s\n", m.VersionID, m.Path)
			}
		}
		return nil
	},
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List model files with no metadata.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := layoutManager()
		if err != nil {
			return err
		}

		orphans := store.FindOrphans()
		if len(orphans) == 0 {
			fmt.Println("No orphaned files found")
			return nil
		}
		for _, o := range orphans {
			fmt.Printf("%-10s %s\n", helpers.BytesToSize(uint64(o.Size)), o.Path)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <path>...",
	Short: "Delete model directories or files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := layoutManager()
		if err != nil {
			return err
		}

		failed := 0
		for _, path := range args {
			if !store.Delete(path) {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d delete(s) failed", failed)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <dest> <path>...",
	Short: "Copy model directories into an export destination",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := layoutManager()
		if err != nil {
			return err
		}

		result := store.Export(args[1:], args[0])
		for _, d := range result.Details {
			if d.Success {
				fmt.Printf("exported %s\n", d.Path)
			} else {
				fmt.Printf("FAILED   %s: %s\n", d.Path, d.Error)
			}
		}
		fmt.Printf("%d succeeded, %d failed\n", result.SuccessCount, result.FailedCount)
		if result.FailedCount > 0 {
			return fmt.Errorf("%d export(s) failed", result.FailedCount)
		}
		return nil
	},
}

func layoutManager() (*storage.Manager, error) {
	if globalConfig.ComfyPath == "" {
		return nil, fmt.Errorf("comfy_path is not configured (--comfy-path or config file)")
	}
	return storage.NewManager(globalConfig.ComfyPath), nil
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(scanCmd)
	storageCmd.AddCommand(usageCmd)
	storageCmd.AddCommand(duplicatesCmd)
	storageCmd.AddCommand(orphansCmd)
	storageCmd.AddCommand(deleteCmd)
	storageCmd.AddCommand(exportCmd)
}
