package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	password := flag.String("admin-password", os.Getenv("ADMIN_PASSWORD"), "admin password used to seed prize and codes")
	nCodes := flag.Int("codes", 100, "distinct codes for the over-allocation test (max 100)")
	stock := flag.Int("stock", 1, "units of the seeded prize")
	sameCode := flag.Int("same", 50, "concurrent spins with one code for the double-spend test")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 15 * time.Second}
	// 发码接口逐封发邮件，耗时随数量增长
	adminClient := &http.Client{Timeout: 3 * time.Minute}

	token, err := login(adminClient, *baseURL, *password)
	if err != nil {
		fail("admin login", err)
	}
	admin := map[string]string{"Authorization": "Bearer " + token}

	// 种子数据：一个限量奖品 + 一批抽奖码
	if err := doJSON(adminClient, http.MethodPost, *baseURL+"/api/admin/prizes", map[string]any{
		"title":          fmt.Sprintf("loadtest-%d", time.Now().Unix()),
		"quantity_total": *stock,
		"weight":         1,
	}, admin, nil); err != nil {
		fail("create prize", err)
	}
	codes, err := generateCodes(adminClient, *baseURL, admin, *nCodes+1)
	if err != nil {
		fail("generate codes", err)
	}
	fmt.Printf("seeded prize stock=%d codes=%d\n", *stock, len(codes))

	// 每个请求带不同的 X-Forwarded-For，避免被失败次数限流干扰统计
	// 1) 不重复消费：同一个码并发抽
	fmt.Printf("\nstart double-spend test: same code, %d requests, concurrency %d\n", *sameCode, *concurrency)
	same := make([]string, *sameCode)
	for i := range same {
		same[i] = codes[0]
	}
	printSummary("double_spend", runSpins(client, *baseURL, same, *concurrency))

	// 2) 不超发：不同码并发抽
	fmt.Printf("\nstart over-allocation test: %d distinct codes, concurrency %d\n", len(codes)-1, *concurrency)
	printSummary("over_allocation", runSpins(client, *baseURL, codes[1:], *concurrency))
	fmt.Printf("expect at most %d successes in total across both tests (one prize row seeded)\n", *stock)
}

func login(client *http.Client, baseURL, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := doJSON(client, http.MethodPost, baseURL+"/api/admin/login", map[string]string{"password": password}, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// generateCodes 走管理端批量发码接口（单次上限 100）。
func generateCodes(client *http.Client, baseURL string, headers map[string]string, n int) ([]string, error) {
	var codes []string
	for n > 0 {
		batch := n
		if batch > 100 {
			batch = 100
		}
		names := make([]string, batch)
		emails := make([]string, batch)
		stamp := time.Now().UnixNano()
		for i := range names {
			names[i] = fmt.Sprintf("Load %d", i)
			emails[i] = fmt.Sprintf("load-%d-%d@example.org", stamp, i)
		}
		var out struct {
			Codes []struct {
				Code string `json:"code"`
			} `json:"codes"`
		}
		if err := doJSON(client, http.MethodPost, baseURL+"/api/admin/codes/generate", map[string]any{
			"quantity": batch,
			"names":    strings.Join(names, "\n"),
			"emails":   strings.Join(emails, "\n"),
		}, headers, &out); err != nil {
			return nil, err
		}
		for _, c := range out.Codes {
			codes = append(codes, c.Code)
		}
		n -= batch
	}
	return codes, nil
}

func runSpins(client *http.Client, baseURL string, codes []string, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, len(codes))

	for i, code := range codes {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, code string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = spinOnce(client, baseURL, code, fmt.Sprintf("10.%d.%d.%d", idx>>16&255, idx>>8&255, idx&255))
		}(i, code)
	}

	wg.Wait()
	return results
}

func spinOnce(client *http.Client, baseURL, code, clientIP string) Result {
	b, _ := json.Marshal(map[string]string{"code": code})
	httpReq, _ := http.NewRequest(http.MethodPost, baseURL+"/api/spin", bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Forwarded-For", clientIP)

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码与错误文案的分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	reasons := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
		if r.Status != http.StatusOK {
			var body struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal([]byte(r.Body), &body)
			reasons[body.Error]++
		}
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	for reason, n := range reasons {
		fmt.Printf("  %q -> %d\n", reason, n)
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doJSON 发送 JSON 请求并解出 {code,msg,data} 里的 data。
func doJSON(client *http.Client, method, url string, body any, headers map[string]string, out any) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Data, out)
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", step, err)
	os.Exit(1)
}
