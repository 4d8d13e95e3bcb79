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
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	staffID     string
	staffPW     string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64
	reject422     uint64 // Business rejections (insufficient funds)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&staffID, "staff", "admin", "Admin staff id")
	flag.StringVar(&staffPW, "password", "admin123", "Admin password")
}

func main() {
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	token, err := login(client)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	accounts, err := listAccounts(client, token)
	if err != nil {
		log.Fatalf("listing accounts failed: %v", err)
	}
	if len(accounts) < 2 {
		log.Fatalf("need at least 2 accounts, found %d (run the seeder first)", len(accounts))
	}

	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Accounts: %d", workload, concurrency, duration, len(accounts))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, token, accounts)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func login(client *http.Client) (string, error) {
	body, _ := json.Marshal(map[string]string{"staff_id": staffID, "password": staffPW, "role": "Admin"})
	resp, err := client.Post(targetURL+"/api/v1/sessions/staff", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", err
	}
	return session.Token, nil
}

func listAccounts(client *http.Client, token string) ([]string, error) {
	req, _ := http.NewRequest(http.MethodGet, targetURL+"/api/v1/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var accounts []struct {
		Number string `json:"account_number"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, err
	}
	numbers := make([]string, 0, len(accounts))
	for _, a := range accounts {
		numbers = append(numbers, a.Number)
	}
	return numbers, nil
}

func worker(wg *sync.WaitGroup, start time.Time, token string, accounts []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		number := pickAccount(accounts)

		// Withdrawals outnumber deposits so the hot account regularly runs dry
		// and the insufficient-funds path is exercised under contention.
		op := "withdrawals"
		if rand.Float32() < 0.4 {
			op = "deposits"
		}
		body, _ := json.Marshal(map[string]string{"amount": "1.00"})

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/accounts/"+number+"/"+op, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&reject422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickAccount(accounts []string) string {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to the first account
		if rand.Float32() < 0.90 {
			return accounts[0]
		}
	}
	return accounts[rand.Intn(len(accounts))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	r422 := atomic.LoadUint64(&reject422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	rejectRate := 0.0
	if total > 0 {
		rejectRate = float64(r422) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success":         s200,
		"rejected":        r422,
		"reject_rate_pct": rejectRate,
		"errors":          fErr,
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
