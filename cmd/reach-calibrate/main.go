// reach-calibrate fits the arm's rotation pivot and yaw-to-servo mapping
// from a recorded sample set, folds the result into a calibration profile,
// and optionally renders residual plots for inspection.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/reach-arm/reachd/internal/calib"
)

func main() {
	samplesPath := flag.String("samples", "", "JSON file of calibration samples (required)")
	profilePath := flag.String("profile", "calibration.json", "Calibration profile to update")
	splitDeg := flag.Float64("split", 90, "Yaw angle separating the two linear mapping segments")
	box := flag.String("box", "", "Pivot search box as minX:maxX:minY:maxY in mm (required)")
	plotPath := flag.String("plot", "", "Write a residuals PNG to this path")
	reportPath := flag.String("report", "", "Write an HTML fit report to this path")
	dryRun := flag.Bool("dry-run", false, "Print the fit without updating the profile")
	flag.Parse()

	if *samplesPath == "" || *box == "" {
		flag.Usage()
		os.Exit(2)
	}

	samples, err := loadSamples(*samplesPath)
	if err != nil {
		log.Fatalf("failed to load samples: %v", err)
	}
	searchBox, err := parseBox(*box)
	if err != nil {
		log.Fatalf("invalid -box: %v", err)
	}

	result, err := calib.FitPivotAndMapping(samples, *splitDeg, searchBox)
	if err != nil {
		log.Fatalf("fit failed: %v", err)
	}

	fmt.Printf("pivot:      (%.1f, %.1f) mm\n", result.Pivot.X, result.Pivot.Y)
	fmt.Printf("scale low:  %.4f deg/deg\n", result.ScaleLow)
	fmt.Printf("scale high: %.4f deg/deg\n", result.ScaleHigh)
	fmt.Printf("center:     %.2f deg\n", result.CenterDeg)
	fmt.Printf("rms:        %.3f deg over %d samples\n", result.RMS, len(samples))

	if *plotPath != "" {
		if err := writeResidualPlot(*plotPath, samples, *splitDeg, result); err != nil {
			log.Fatalf("failed to write plot: %v", err)
		}
		log.Printf("residual plot written to %s", *plotPath)
	}
	if *reportPath != "" {
		if err := writeHTMLReport(*reportPath, samples, *splitDeg, result); err != nil {
			log.Fatalf("failed to write report: %v", err)
		}
		log.Printf("fit report written to %s", *reportPath)
	}

	if *dryRun {
		return
	}

	store := calib.NewFileStore(*profilePath)
	profile, err := store.Load()
	if err != nil {
		log.Fatalf("failed to load profile %s: %v", *profilePath, err)
	}
	calib.ApplyFit(profile, *splitDeg, result)
	if err := store.Save(profile); err != nil {
		log.Fatalf("failed to save profile %s: %v", *profilePath, err)
	}
	log.Printf("profile %s updated", *profilePath)
}

func loadSamples(path string) ([]calib.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var samples []calib.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// parseBox parses minX:maxX:minY:maxY, all in world millimetres.
func parseBox(s string) (calib.SearchBox, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return calib.SearchBox{}, fmt.Errorf("expected 4 colon-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return calib.SearchBox{}, fmt.Errorf("bad value %q: %w", p, err)
		}
		vals[i] = v
	}
	box := calib.SearchBox{MinX: vals[0], MaxX: vals[1], MinY: vals[2], MaxY: vals[3]}
	if box.MinX >= box.MaxX || box.MinY >= box.MaxY {
		return calib.SearchBox{}, fmt.Errorf("box is empty: %+v", box)
	}
	return box, nil
}
