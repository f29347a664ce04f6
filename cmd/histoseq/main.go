package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"histoseq/internal/dataset"
	"histoseq/pkg/config"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "histoseq.yaml", "Path to YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	dataDir := flag.String("data-dir", "", "Override the configured image data directory")
	imageList := flag.String("image-list", "", "Override the configured image list CSV")
	output := flag.String("output", "", "Override the combined output binary name")
	mode := flag.String("mode", "", "Override the image list mode to process (train/valid/test)")
	workers := flag.Int("workers", 0, "Override the number of parallel image workers")
	seed := flag.Uint64("seed", 0, "Override the sampling seed")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dataDir != "" {
		cfg.Data.ImageDataDir = *dataDir
	}
	if *imageList != "" {
		cfg.Data.ImageListCSV = *imageList
	}
	if *output != "" {
		cfg.Data.CombinedBin = *output
	}
	if *mode != "" {
		cfg.Processing.Mode = *mode
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *seed > 0 {
		cfg.Processing.Seed = *seed
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("HISTOSEQ: TRAINING SEQUENCE GENERATION FROM WHOLE-SLIDE HISTOLOGY MASKS")
	fmt.Println("================================")
	fmt.Printf("Image data directory: %s\n", cfg.Data.ImageDataDir)
	fmt.Printf("Image list: %s (mode %q)\n", cfg.ImageListPath(), cfg.Processing.Mode)

	entries, err := dataset.LoadImageList(cfg.ImageListPath(), cfg.Processing.Mode, cfg)
	if err != nil {
		log.Fatalf("Failed to load image list: %v", err)
	}
	if len(entries) == 0 {
		log.Fatalf("No %q entries in image list %s", cfg.Processing.Mode, cfg.ImageListPath())
	}
	fmt.Printf("Processing %d images with %d workers...\n", len(entries), cfg.Processing.NumWorkers)

	combinedPath := filepath.Join(cfg.PatchesDir(), cfg.Data.CombinedBin)
	if err := os.MkdirAll(cfg.PatchesDir(), 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	out, err := os.Create(combinedPath)
	if err != nil {
		log.Fatalf("Failed to create combined binary: %v", err)
	}

	startTime := time.Now()
	builder := dataset.NewBuilder(cfg, entries)
	errRows, err := builder.Run(out)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		log.Fatalf("Dataset build failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nDataset build completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Combined binary saved to: %s\n", combinedPath)
	fmt.Printf("Images processed: %d, images with errors: %d\n", len(entries)-len(errRows), len(errRows))

	if len(errRows) > 0 {
		errPath := cfg.Data.ErrorCSV
		if !filepath.IsAbs(errPath) {
			errPath = filepath.Join(cfg.Data.ImageDataDir, errPath)
		}
		if err := dataset.WriteErrorCSV(errPath, errRows); err != nil {
			log.Fatalf("Failed to write error report: %v", err)
		}
		fmt.Printf("Error report written to: %s\n", errPath)
	}
}
