package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"sawit/internal/config"
	"sawit/internal/logger"
	"sawit/internal/repository/sqlite"
	"sawit/internal/service/ai"
	"sawit/internal/service/pipeline"
	"sawit/internal/service/storage"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

func main() {
	cfg := config.Load()

	imagesDir := flag.String("images", "images", "Directory containing images to detect")
	dbPath := flag.String("db", cfg.DatabasePath, "Database path")
	modelPath := flag.String("model", cfg.ModelPath, "ONNX model path")
	labelsPath := flag.String("labels", cfg.LabelsPath, "Class names file (empty = built-in labels)")
	confidence := flag.Float64("confidence", cfg.Confidence, "Confidence threshold")
	onlyDetected := flag.Bool("only-detected", false, "Store only images with at least one detection")
	flag.Parse()

	if *confidence < 0 || *confidence > 1 {
		log.Fatalf("Confidence must be between 0 and 1, got %v", *confidence)
	}

	fmt.Printf("Detecting images from %s into database %s\n", *imagesDir, *dbPath)

	lg := logger.NewLogger(cfg)
	defer lg.Close()

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	store, err := storage.NewDetectionStore(sqlite.NewDetectionRepository(db), cfg.Timezone, lg)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}

	labels, err := ai.LoadLabels(*labelsPath)
	if err != nil {
		log.Fatalf("Failed to load labels: %v", err)
	}

	detector, err := ai.NewYOLODetector(ai.YOLOConfig{
		ModelPath:    *modelPath,
		InputSize:    cfg.InputSize,
		MinScore:     cfg.DetectorMinScore,
		NMSThreshold: cfg.NMSThreshold,
	}, lg)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}

	p, err := pipeline.New(detector, labels.Lookup, lg, pipeline.Options{})
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	defer p.Close()

	files, err := os.ReadDir(*imagesDir)
	if err != nil {
		log.Fatalf("Failed to read images directory: %v", err)
	}

	stored, empty, skipped := 0, 0, 0
	perLabel := make(map[string]int)
	for _, file := range files {
		if file.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(file.Name()))] {
			continue
		}

		path := filepath.Join(*imagesDir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		frame, err := p.ProcessImage(data, *confidence)
		if err != nil {
			log.Printf("Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		if len(frame.Detections) == 0 {
			empty++
			if *onlyDetected {
				frame.Close()
				continue
			}
		}

		info, err := file.Info()
		if err != nil {
			frame.Close()
			log.Printf("Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		record, err := store.PersistAt(frame, info.ModTime())
		frame.Close()
		if err != nil {
			log.Fatalf("Failed to store %s: %v", file.Name(), err)
		}

		for _, obj := range record.Objects {
			perLabel[obj.Label]++
		}
		stored++
		fmt.Printf("  #%d %s: %d detection(s)\n", record.ID, file.Name(), len(record.Objects))
	}

	if stored == 0 && skipped == 0 && empty == 0 {
		fmt.Println("No images found")
		return
	}

	fmt.Printf("Stored %d images (%d without detections)\n", stored, empty)
	if skipped > 0 {
		fmt.Printf("Skipped %d files (unsupported format or errors)\n", skipped)
	}

	total, err := store.Count()
	if err == nil {
		fmt.Printf("\nDatabase statistics:\n")
		fmt.Printf("   Total records: %d\n", total)
		if len(perLabel) > 0 {
			fmt.Printf("   Detections this run:\n")
			for label, count := range perLabel {
				fmt.Printf("      - %s: %d\n", label, count)
			}
		}
	}
}
