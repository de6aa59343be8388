// Benchmark tool for measuring cogsolver against synthetic applications.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -n 5000
//
// This tool:
//  1. Installs a short-notice rule and its target status on the server
//  2. Submits synthetic applications whose expected outcome is known
//  3. Fetches each application's recommendation and compares it with the label
//  4. Times the full batch report over everything stored
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	benchStatusID = "bench-urgent"
	benchRuleID   = "bench-short-notice"
)

// Synthetic is a generated application with its expected outcome.
type Synthetic struct {
	Request  ApplicationRequest
	Expected bool // the short-notice rule should match
}

// ApplicationRequest is the cogsolver API submission format.
type ApplicationRequest struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Windows          []Window `json:"windows"`
	Roles            []string `json:"roles"`
	ParticipantCount int      `json:"participantCount"`
}

type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Recommendation is the subset of a report row the benchmark reads.
type Recommendation struct {
	RecommendedStatusID string `json:"recommendedStatusId"`
	Changed             bool   `json:"changed"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
	ReportMs         int64
	ReportRows       int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "cogsolver base URL")
	count := flag.Int("n", 1000, "number of synthetic applications")
	workers := flag.Int("workers", 10, "number of concurrent workers")
	threshold := flag.Int("threshold", 2, "days threshold of the benchmark rule")
	seed := flag.Uint64("seed", 1, "random seed")
	verbose := flag.Bool("verbose", false, "print each application result")
	flag.Parse()

	if *threshold < 1 {
		fmt.Println("ERROR: -threshold must be at least 1")
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        COGSOLVER BENCHMARK - Synthetic Applications           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nURL:         %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Apps:        %d\n", *count)
	fmt.Printf("Threshold:   %d days\n", *threshold)
	fmt.Println()

	client := &http.Client{Timeout: 10 * time.Second}

	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: cogsolver not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure cogsolver is running:")
		fmt.Println("  go run ./cmd/cogsolver serve")
		os.Exit(1)
	}
	fmt.Println("✓ cogsolver is healthy")

	if err := installRule(client, *baseURL, *threshold); err != nil {
		fmt.Printf("ERROR: failed to install benchmark rule: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ benchmark rule installed")

	apps := generate(*count, *threshold, rand.New(rand.NewPCG(*seed, *seed)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(client, apps, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	reportStart := time.Now()
	rows, err := fetchReport(client, *baseURL)
	if err != nil {
		fmt.Printf("WARNING: report failed: %v\n", err)
	} else {
		metrics.ReportMs = time.Since(reportStart).Milliseconds()
		metrics.ReportRows = int64(rows)
	}

	printResults(metrics, duration)
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// installRule creates the target status and a top-priority date rule,
// replacing them if a previous run left them behind.
func installRule(client *http.Client, baseURL string, threshold int) error {
	status := map[string]any{"id": benchStatusID, "name": "Bench urgent", "stage": 99}
	if _, err := send(client, http.MethodPost, baseURL+"/statuses", status, nil); err != nil {
		return err
	}

	rule := map[string]any{
		"id":             benchRuleID,
		"name":           "Benchmark short notice",
		"priority":       1 << 30,
		"active":         true,
		"conditionType":  "date_compare",
		"daysThreshold":  threshold,
		"targetStatusId": benchStatusID,
	}
	code, err := send(client, http.MethodPost, baseURL+"/rules", rule, nil)
	if code == http.StatusConflict {
		_, err = send(client, http.MethodPut, baseURL+"/rules/"+benchRuleID, rule, nil)
	}
	return err
}

// generate builds applications whose latest window start lies clearly
// inside or clearly outside the threshold, so the label is unambiguous.
func generate(n, threshold int, rng *rand.Rand) []Synthetic {
	limit := time.Duration(threshold) * 24 * time.Hour
	margin := 6 * time.Hour
	now := time.Now().UTC()

	out := make([]Synthetic, n)
	for i := range out {
		expected := rng.IntN(2) == 0

		var latest time.Duration
		if expected {
			latest = time.Duration(rng.Int64N(int64(limit - margin)))
		} else {
			latest = limit + margin + time.Duration(rng.Int64N(int64(30*24*time.Hour)))
		}

		windows := make([]Window, 1+rng.IntN(3))
		for j := range windows {
			offset := latest
			if j > 0 {
				offset = time.Duration(rng.Int64N(int64(latest) + 1))
			}
			start := now.Add(margin + offset)
			windows[j] = Window{Start: start, End: start.Add(2 * time.Hour)}
		}

		out[i] = Synthetic{
			Request: ApplicationRequest{
				Title:            fmt.Sprintf("Synthetic event %d", i),
				Description:      "Generated by the cogsolver benchmark.",
				Windows:          windows,
				ParticipantCount: rng.IntN(200),
			},
			Expected: expected,
		}
	}
	return out
}

func runBenchmark(client *http.Client, apps []Synthetic, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Synthetic, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for app := range work {
				start := time.Now()
				rec, err := submitAndRecommend(client, baseURL, app.Request)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", app.Request.Title, err)
					}
					continue
				}

				predicted := rec.RecommendedStatusID == benchStatusID
				switch {
				case predicted && app.Expected:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !app.Expected:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !app.Expected:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					mark := "✓"
					if predicted != app.Expected {
						mark = "✗"
					}
					fmt.Printf("%s %-24s | windows: %d | expected: %-5v | got: %s (%d ms)\n",
						mark, app.Request.Title, len(app.Request.Windows), app.Expected, rec.RecommendedStatusID, elapsed)
				}
			}
		}()
	}

	for _, app := range apps {
		work <- app
	}
	close(work)
	wg.Wait()

	return metrics
}

func submitAndRecommend(client *http.Client, baseURL string, req ApplicationRequest) (*Recommendation, error) {
	var created struct {
		ID string `json:"id"`
	}
	if _, err := send(client, http.MethodPost, baseURL+"/applications", req, &created); err != nil {
		return nil, err
	}

	var rec Recommendation
	if _, err := send(client, http.MethodGet, baseURL+"/applications/"+created.ID+"/recommendation", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func fetchReport(client *http.Client, baseURL string) (int, error) {
	var report struct {
		Results []json.RawMessage `json:"results"`
	}
	if _, err := send(client, http.MethodGet, baseURL+"/report", nil, &report); err != nil {
		return 0, err
	}
	return len(report.Results), nil
}

// send issues a JSON request. 409 is returned as a code without error so
// callers can fall back to an update.
func send(client *http.Client, method, url string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return resp.StatusCode, nil
	case resp.StatusCode >= 300:
		return resp.StatusCode, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   URGENT     UNCHANGED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Expected U │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("            N │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy := float64(m.TruePositives+m.TrueNegatives) / float64(total)
		fmt.Printf("\n🎯 AGREEMENT\n")
		fmt.Printf("   Accuracy:   %.4f\n", accuracy)
		if accuracy < 1 {
			fmt.Println("   ⚠️  Some recommendations disagree with the labels; another active rule may outrank the benchmark rule.")
		}
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms (submit + recommend)\n", avgMs)
		fmt.Printf("   Throughput:       %.2f apps/sec\n", rps)
	}
	if m.ReportRows > 0 {
		fmt.Printf("   Batch Report:     %d rows in %d ms\n", m.ReportRows, m.ReportMs)
	}

	fmt.Println()
}
