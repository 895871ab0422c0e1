package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

const (
	defaultAPIBase = "http://localhost:8080"
	pollAttempts   = 30
)

var (
	apiBase    string
	token      string
	userID     string
	client     = &http.Client{Timeout: 30 * time.Second}
	createdIDs = make(map[string]string)
)

func main() {
	fmt.Println("=== Agent Portal Reporting Smoke Test ===")
	fmt.Println()

	apiBase = getEnv("API_BASE_URL", defaultAPIBase)
	token = getEnv("SMOKE_TOKEN", "")
	userID = getEnv("SMOKE_USER_ID", "agent-dev")

	fmt.Printf("API Base: %s\n", apiBase)
	fmt.Printf("Token: %s\n", maskString(token))
	fmt.Printf("User ID: %s\n", userID)
	fmt.Println()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"Healthz", testHealthz},
		{"Dev Token", testDevToken},
		{"Validate Template", testValidateTemplate},
		{"Create Template", testCreateTemplate},
		{"Create Report (CSV)", testCreateReport},
		{"Wait For Report", testWaitForReport},
		{"List Reports", testListReports},
		{"Download Report", testDownloadReport},
		{"Export Payments (CSV)", testExportPayments},
		{"Unread Notifications", testUnreadNotifications},
	}

	failed := false
	for i, step := range steps {
		fmt.Printf("[%d/%d] %s... ", i+1, len(steps), step.name)
		if err := step.fn(); err != nil {
			fmt.Printf("❌ FAILED\n")
			fmt.Printf("  Error: %v\n\n", err)
			failed = true
			break
		}
		fmt.Printf("✅ OK\n")
	}

	fmt.Println()
	if failed {
		fmt.Println("❌ SMOKE TEST FAILED")
		os.Exit(1)
	}

	fmt.Println("✅ ALL SMOKE TESTS PASSED")
}

func testHealthz() error {
	resp, err := send("GET", "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expectStatus(resp, http.StatusOK)
}

// testDevToken fetches a token unless one was provided. Servers running
// without JWT auth answer 404 and the identity header is used instead.
func testDevToken() error {
	if token != "" {
		return nil
	}

	resp, err := send("POST", "/v1/auth/dev", map[string]string{"user_id": userID, "role": "agent"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	token = result.AccessToken
	return nil
}

func templateStructure() map[string]any {
	return map[string]any{
		"sections": []map[string]any{
			{"id": "title", "type": "header", "title": "Smoke revenue"},
			{"id": "totals", "type": "summary", "title": "Totals"},
			{"id": "rows", "type": "table", "title": "Payments"},
		},
		"showPageNumbers": true,
	}
}

func testValidateTemplate() error {
	resp, err := send("POST", "/v1/templates/validate", map[string]any{
		"reportType": "REVENUE_ANALYSIS",
		"structure":  templateStructure(),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}

	var result struct {
		IsValid bool     `json:"isValid"`
		Errors  []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	if !result.IsValid {
		return fmt.Errorf("template rejected: %s", strings.Join(result.Errors, "; "))
	}
	return nil
}

func testCreateTemplate() error {
	resp, err := send("POST", "/v1/templates", map[string]any{
		"name":       "Smoke revenue " + time.Now().Format("150405"),
		"reportType": "REVENUE_ANALYSIS",
		"category":   "smoke",
		"layout":     map[string]any{"format": "pdf", "orientation": "portrait", "pageSize": "A4"},
		"structure":  templateStructure(),
		"tags":       []string{"smoke"},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := expectStatus(resp, http.StatusCreated); err != nil {
		return err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	createdIDs["template"] = result.ID
	return nil
}

func testCreateReport() error {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	resp, err := send("POST", "/v1/reports", map[string]any{
		"title": "Smoke revenue",
		"type":  "REVENUE_ANALYSIS",
		"parameters": map[string]any{
			"dateFrom": from.Format("2006-01-02"),
			"dateTo":   to.Format("2006-01-02"),
			"format":   "csv",
		},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := expectStatus(resp, http.StatusAccepted); err != nil {
		return err
	}

	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	createdIDs["report"] = result.ID
	return nil
}

func testWaitForReport() error {
	reportID := createdIDs["report"]
	if reportID == "" {
		return fmt.Errorf("no report ID to poll")
	}

	for i := 0; i < pollAttempts; i++ {
		resp, err := send("GET", "/v1/reports/"+reportID, nil)
		if err != nil {
			return err
		}
		var result struct {
			Status       string  `json:"status"`
			ErrorMessage *string `json:"errorMessage"`
		}
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode failed: %w", err)
		}

		switch result.Status {
		case "COMPLETED":
			return nil
		case "FAILED", "CANCELLED":
			msg := ""
			if result.ErrorMessage != nil {
				msg = *result.ErrorMessage
			}
			return fmt.Errorf("report ended %s: %s", result.Status, msg)
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("report not completed after %d polls", pollAttempts)
}

func testListReports() error {
	resp, err := send("GET", "/v1/reports?sortBy=createdAt&sortOrder=desc&limit=5", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}

	var result struct {
		Reports []struct {
			ID string `json:"id"`
		} `json:"reports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	for _, r := range result.Reports {
		if r.ID == createdIDs["report"] {
			return nil
		}
	}
	return fmt.Errorf("created report %s not listed", createdIDs["report"])
}

func testDownloadReport() error {
	reportID := createdIDs["report"]
	if reportID == "" {
		return fmt.Errorf("no report ID to download")
	}

	resp, err := send("GET", "/v1/reports/"+reportID+"/download", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// S3 mode redirects to a presigned URL.
	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusTemporaryRedirect {
		return nil
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "attachment") {
		return fmt.Errorf("missing attachment disposition")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty report file")
	}
	return nil
}

func testExportPayments() error {
	resp, err := send("POST", "/v1/exports", map[string]any{
		"entityType": "payments",
		"format":     "csv",
		"columns":    []string{"id", "amount", "status"},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}
	if resp.Header.Get("X-Export-Job-ID") == "" {
		return fmt.Errorf("missing export job header")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(string(body), "id,amount,status") {
		return fmt.Errorf("unexpected CSV header: %.60q", body)
	}
	return nil
}

func testUnreadNotifications() error {
	resp, err := send("GET", "/v1/notifications/unread-count", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expectStatus(resp, http.StatusOK)
}

// Helper functions

func send(method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, apiBase+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	addAuth(req)

	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return noRedirect.Do(req)
}

func expectStatus(resp *http.Response, want int) error {
	if resp.StatusCode != want {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}

func addAuth(req *http.Request) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	req.Header.Set("X-User-ID", userID)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
