package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	totalUsers  int
)

// Metrics
var (
	totalRequests uint64
	succeeded     uint64 // txn_status=success
	failedFunds   uint64 // txn_status=failed (insufficient funds)
	replays       uint64 // idempotent replays
	conflict409   uint64 // pending-key conflicts
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&totalUsers, "users", 1000, "Number of seeded users")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// userID mirrors the seeder's stable uuid derivation.
func userID(i int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("walletops-user-%d", i)))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		user := pickUser()
		key := fmt.Sprintf("bench-%s-%d", user, time.Now().UnixNano())

		payload := map[string]interface{}{
			"userId":    user,
			"assetCode": "GOLD",
			"amount":    int64(10),
			"itemId":    "bench-item",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/wallet/spend", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			var out struct {
				TxnStatus string `json:"txn_status"`
				Replay    bool   `json:"replay"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				atomic.AddUint64(&failOther, 1)
				break
			}
			switch {
			case out.Replay:
				atomic.AddUint64(&replays, 1)
			case out.TxnStatus == "success":
				atomic.AddUint64(&succeeded, 1)
			default:
				atomic.AddUint64(&failedFunds, 1)
			}
		case 409:
			atomic.AddUint64(&conflict409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickUser() uuid.UUID {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic drains one wallet
		if rand.Float32() < 0.90 {
			return userID(0)
		}
	}
	return userID(rand.Intn(totalUsers))
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&succeeded)
	funds := atomic.LoadUint64(&failedFunds)
	rep := atomic.LoadUint64(&replays)
	conf := atomic.LoadUint64(&conflict409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success":           ok,
		"failed_funds":      funds,
		"replays":           rep,
		"pending_conflicts": conf,
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
