package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/versebound/verseledger/internal/engine"
)

// catalogFile is the on-disk shape of the song catalog.
type catalogFile struct {
	Songs []catalogEntry `yaml:"songs"`
}

type catalogEntry struct {
	ID     string   `yaml:"id"`
	Title  string   `yaml:"title"`
	Artist string   `yaml:"artist"`
	Lines  []string `yaml:"lines"`
}

// yamlCatalog implements engine.SongDirectory over a YAML file.
type yamlCatalog struct {
	byID map[string]catalogEntry
}

func openCatalog(path string) (*yamlCatalog, error) {
	catalog := &yamlCatalog{byID: make(map[string]catalogEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// No catalog yet. Lookups will fail with a clear error.
		return catalog, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read song catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse song catalog %s: %w", path, err)
	}
	for _, entry := range file.Songs {
		if entry.ID == "" {
			return nil, fmt.Errorf("song catalog %s has an entry without an id", path)
		}
		catalog.byID[entry.ID] = entry
	}
	return catalog, nil
}

func (c *yamlCatalog) GetSongByID(_ context.Context, songID string) (*engine.Song, error) {
	entry, ok := c.byID[songID]
	if !ok {
		return nil, fmt.Errorf("song %s not in catalog", songID)
	}
	return &engine.Song{Title: entry.Title, Artist: entry.Artist}, nil
}

// lines returns the lyric lines for a song, for line-indexed saves.
func (c *yamlCatalog) lines(songID string) []string {
	return c.byID[songID].Lines
}

var songsCmd = &cobra.Command{
	Use:     "songs",
	GroupID: "practice",
	Short:   "List songs in the local catalog",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		catalog, err := openCatalog(cfg.Songs.CatalogPath)
		if err != nil {
			fatalf("%v", err)
		}
		if len(catalog.byID) == 0 {
			fmt.Printf("No songs in catalog (%s)\n", cfg.Songs.CatalogPath)
			return
		}
		for id, entry := range catalog.byID {
			fmt.Printf("%-20s %s by %s (%d lines)\n", id, entry.Title, entry.Artist, len(entry.Lines))
		}
	},
}

func init() {
	rootCmd.AddCommand(songsCmd)
}
