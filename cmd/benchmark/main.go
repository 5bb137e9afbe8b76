package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/paysync/internal/domain"
	"github.com/punchamoorthee/paysync/internal/gateway"
	"github.com/punchamoorthee/paysync/internal/models"
)

var (
	targetURL   string
	secret      string
	concurrency int
	users       int
	payments    int
	replays     int
	amountMinor int64
)

// Metrics
var (
	totalRequests uint64
	success200    uint64
	reject400     uint64
	retry500      uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&secret, "secret", os.Getenv("STRIPE_WEBHOOK_SECRET"), "Webhook signing secret")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.IntVar(&users, "users", 100, "Number of seeded wallets")
	flag.IntVar(&payments, "payments", 1000, "Number of seeded payments to deposit")
	flag.IntVar(&replays, "replays", 3, "Deliveries of each event")
	flag.Int64Var(&amountMinor, "amount", 2000, "Deposit amount in minor units")
}

// Key formats must match cmd/seeder.
func userID(i int) string    { return fmt.Sprintf("bench_user_%04d", i) }
func paymentID(i int) string { return fmt.Sprintf("pay_bench_%06d", i) }

type delivery struct {
	body []byte
}

func main() {
	flag.Parse()
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if secret == "" {
		logger.Fatal("a signing secret is required (-secret or STRIPE_WEBHOOK_SECRET)")
	}
	logger.Info("Starting Benchmark",
		zap.Int("workers", concurrency), zap.Int("payments", payments), zap.Int("replays", replays))

	// Duplicates of the same event are queued back to back so that they
	// land on different workers at nearly the same time.
	amount := decimal.New(amountMinor, -2).StringFixed(2)
	jobs := make(chan delivery, concurrency*2)
	go func() {
		defer close(jobs)
		for i := 0; i < payments; i++ {
			md := gateway.DepositMetadata(userID(i%users), amount, "usd")
			body := gateway.CheckoutCompletedBody(fmt.Sprintf("evt_bench_%06d", i), fmt.Sprintf("cs_bench_%06d", i), paymentID(i), md)
			for r := 0; r < replays; r++ {
				jobs <- delivery{body: body}
			}
		}
	}()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, jobs)
	}
	wg.Wait()
	elapsed := time.Since(start)

	doubles, missing := verify(logger)
	printResults(elapsed, doubles, missing)
}

func worker(wg *sync.WaitGroup, jobs <-chan delivery) {
	defer wg.Done()
	client := &http.Client{Timeout: 15 * time.Second}

	for job := range jobs {
		req, _ := http.NewRequest("POST", targetURL+"/api/v1/webhooks/stripe", bytes.NewReader(job.body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Stripe-Signature", gateway.Sign(job.body, secret, time.Now()))

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&success200, 1)
		case 400:
			atomic.AddUint64(&reject400, 1)
		case 500:
			atomic.AddUint64(&retry500, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// verify reads every benchmark wallet back and counts references credited
// more than once and payments with no credit at all.
func verify(logger *zap.Logger) (doubles, missing int) {
	client := &http.Client{Timeout: 10 * time.Second}
	credited := make(map[string]int, payments)

	for u := 0; u < users; u++ {
		for offset := 0; ; offset += verifyPageSize {
			entries, err := walletPage(client, userID(u), offset)
			if err != nil {
				logger.Warn("wallet lookup failed", zap.String("user_id", userID(u)), zap.Int("offset", offset), zap.Error(err))
				break
			}
			for _, e := range entries {
				credited[e.ReferenceID]++
			}
			if len(entries) < verifyPageSize {
				break
			}
		}
	}

	for i := 0; i < payments; i++ {
		switch n := credited[paymentID(i)]; {
		case n == 0:
			missing++
		case n > 1:
			doubles++
		}
	}
	return doubles, missing
}

// verifyPageSize matches the server's maximum entry limit.
const verifyPageSize = 200

func walletPage(client *http.Client, user string, offset int) ([]domain.LedgerEntry, error) {
	resp, err := client.Get(fmt.Sprintf("%s/api/v1/wallets/%s?limit=%d&offset=%d", targetURL, user, verifyPageSize, offset))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var view models.WalletView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}
	return view.Entries, nil
}

func printResults(d time.Duration, doubles, missing int) {
	total := atomic.LoadUint64(&totalRequests)

	results := map[string]interface{}{
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_rps":    float64(total) / d.Seconds(),
		"acknowledged":      atomic.LoadUint64(&success200),
		"rejected":          atomic.LoadUint64(&reject400),
		"retryable":         atomic.LoadUint64(&retry500),
		"errors":            atomic.LoadUint64(&failOther),
		"double_credits":    doubles,
		"missing_credits":   missing,
		"payments":          payments,
		"replays_per_event": replays,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create("results_webhooks.json")
	if err != nil {
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
