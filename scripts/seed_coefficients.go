// seed_coefficients.go: standalone script that loads a coefficient table or
// a directory of survey files into a running RailKPI service.
//
// Usage:
//
//	go run scripts/seed_coefficients.go -table data/coefficients.tsv -api http://localhost:8700 -token $RAILKPI_ADMIN_TOKEN
//	go run scripts/seed_coefficients.go -surveys data/mini -api http://localhost:8700
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

// Survey file suffixes and the rail type each stands for.
var fileCodes = map[string]string{
	"H": "high_speed",
	"L": "conventional",
	"W": "metropolitan",
}

func main() {
	tablePath := flag.String("table", "", "coefficient table (TSV or CSV) to upload")
	surveyDir := flag.String("surveys", "", "directory of <KPI>_<H|L|W>.csv survey files to calibrate")
	apiURL := flag.String("api", "http://localhost:8700", "RailKPI API base URL")
	token := flag.String("token", os.Getenv("RAILKPI_ADMIN_TOKEN"), "admin bearer token")
	dryRun := flag.Bool("dry-run", false, "validate and print without changing coefficients")
	flag.Parse()

	if (*tablePath == "") == (*surveyDir == "") {
		log.Fatal("exactly one of -table or -surveys is required")
	}

	client := &http.Client{}
	if *tablePath != "" {
		uploadTable(client, *tablePath, *apiURL, *token, *dryRun)
		return
	}
	calibrateSurveys(client, *surveyDir, *apiURL, *token, *dryRun)
}

func uploadTable(client *http.Client, path, apiURL, token string, dryRun bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read table: %v", err)
	}
	rows, err := store.ReadCoefficients(bytes.NewReader(data))
	if err != nil {
		log.Fatalf("parse table: %v", err)
	}
	keys := store.KeysOf(rows)
	log.Printf("parsed %d rows (%d keys) from %s", len(rows), len(keys), path)

	if dryRun {
		for i, k := range keys {
			fmt.Printf("[%d] %s\n", i+1, k)
		}
		return
	}

	req, err := http.NewRequest("PUT", apiURL+"/api/v1/coefficients", bytes.NewReader(data))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "text/tab-separated-values")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("upload failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	log.Printf("done: %s", strings.TrimSpace(string(body)))
}

func calibrateSurveys(client *http.Client, dir, apiURL, token string, dryRun bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read survey directory: %v", err)
	}

	fitted, failed, skipped := 0, 0, 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		kpiCode, railType, ok := parseSurveyName(name)
		if !ok {
			log.Printf("skip %s: name is not <KPI>_<H|L|W>.csv", name)
			skipped++
			continue
		}

		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			log.Printf("skip %s: %v", name, err)
			skipped++
			continue
		}
		q := url.Values{}
		q.Set("rail_type", railType)
		q.Set("kpi", kpiCode)
		q.Set("source", name)
		if dryRun {
			q.Set("dry_run", "true")
		}
		req, err := http.NewRequest("POST", apiURL+"/api/v1/calibrations?"+q.Encode(), f)
		if err != nil {
			f.Close()
			log.Printf("skip %s: %v", name, err)
			skipped++
			continue
		}
		req.Header.Set("Content-Type", "text/csv")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := client.Do(req)
		f.Close()
		if err != nil {
			log.Printf("skip %s: %v", name, err)
			skipped++
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			fitted++
		case http.StatusUnprocessableEntity:
			log.Printf("fit failed for %s: %s", name, strings.TrimSpace(string(body)))
			failed++
		default:
			log.Printf("skip %s: status %d", name, resp.StatusCode)
			skipped++
		}
	}

	log.Printf("done: %d fitted, %d failed, %d skipped", fitted, failed, skipped)
}

// parseSurveyName splits "TV_H.csv" into ("TV", "high_speed").
func parseSurveyName(name string) (string, string, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndex(base, "_")
	if i <= 0 || i == len(base)-1 {
		return "", "", false
	}
	railType, ok := fileCodes[strings.ToUpper(base[i+1:])]
	if !ok {
		return "", "", false
	}
	return base[:i], railType, true
}
