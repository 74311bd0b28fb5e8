//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/taskhub-app/apiserver/config"
	"github.com/taskhub-app/apiserver/internal/db"
	"github.com/taskhub-app/apiserver/internal/server"
)

const (
	serverPort  = 18080
	mailpitAPI  = "http://localhost:8025/api/v1"
	otpWaitTime = 10 * time.Second
)

var otpPattern = regexp.MustCompile(`verification code is: (\d{4})`)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	setTestEnv()

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestAccountLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	email := fmt.Sprintf("user_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"

	userID, err := register(baseURL, email, password)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if userID == "" {
		t.Fatalf("expected account id to be set")
	}

	code, err := waitForOTP(email, 1)
	if err != nil {
		t.Fatalf("read activation otp: %v", err)
	}

	status, err := postJSON(nil, baseURL+"/account/active", map[string]string{"userId": userID, "otp": wrongCode(code)}, nil)
	if err != nil {
		t.Fatalf("activate with wrong code: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("activate with wrong code: expected 400, got %d", status)
	}

	status, err = postJSON(nil, baseURL+"/account/active", map[string]string{"userId": userID, "otp": code}, nil)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("activate: expected 200, got %d", status)
	}

	status, err = postJSON(nil, baseURL+"/account/register", map[string]string{"email": email, "password": password}, nil)
	if err != nil {
		t.Fatalf("duplicate register: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("duplicate register: expected 400, got %d", status)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	access, err := login(client, baseURL, email, password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	me, err := getMe(baseURL, access)
	if err != nil {
		t.Fatalf("get me: %v", err)
	}
	if me.Email != email || !me.Verified {
		t.Fatalf("unexpected account: %+v", me)
	}

	var refreshed struct {
		AccessToken string `json:"access_token"`
	}
	status, err = postJSON(client, baseURL+"/account/refresh_token", nil, &refreshed)
	if err != nil {
		t.Fatalf("refresh token: %v", err)
	}
	if status != http.StatusOK || refreshed.AccessToken == "" {
		t.Fatalf("refresh token: status %d, token %q", status, refreshed.AccessToken)
	}

	var forgot struct {
		UserID string `json:"userId"`
	}
	status, err = postJSON(nil, baseURL+"/account/password/forgot", map[string]string{"email": email}, &forgot)
	if err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if status != http.StatusOK || forgot.UserID != userID {
		t.Fatalf("forgot password: status %d, userId %q", status, forgot.UserID)
	}

	resetCode, err := waitForOTP(email, 2)
	if err != nil {
		t.Fatalf("read reset otp: %v", err)
	}

	newPassword := "newpass456!"
	status, err = postJSON(nil, baseURL+"/account/password/reset", map[string]string{
		"userId":   userID,
		"otp":      resetCode,
		"password": newPassword,
	}, nil)
	if err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("reset password: expected 200, got %d", status)
	}

	status, err = postJSON(nil, baseURL+"/account/login", map[string]string{"email": email, "password": password}, nil)
	if err != nil {
		t.Fatalf("login with old password: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("login with old password: expected 400, got %d", status)
	}

	if _, err := login(client, baseURL, email, newPassword); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	status, err = postJSON(client, baseURL+"/account/logout", nil, nil)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", status)
	}
	status, err = postJSON(client, baseURL+"/account/refresh_token", nil, nil)
	if err != nil {
		t.Fatalf("refresh after logout: %v", err)
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", status)
	}
}

type accountResponse struct {
	ID       string `json:"_id"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

func register(baseURL, email, password string) (string, error) {
	var resp struct {
		Account accountResponse `json:"account"`
	}
	status, err := postJSON(nil, baseURL+"/account/register", map[string]string{
		"email":    email,
		"password": password,
		"fullName": "E2E User",
	}, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", status)
	}
	return resp.Account.ID, nil
}

func login(client *http.Client, baseURL, email, password string) (string, error) {
	var resp struct {
		Account struct {
			AccessToken string `json:"access_token"`
		} `json:"account"`
	}
	status, err := postJSON(client, baseURL+"/account/login", map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", status)
	}
	if resp.Account.AccessToken == "" {
		return "", fmt.Errorf("missing access token")
	}
	return resp.Account.AccessToken, nil
}

func getMe(baseURL, access string) (accountResponse, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/account/me", nil)
	if err != nil {
		return accountResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return accountResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return accountResponse{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}
	var account accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return accountResponse{}, err
	}
	return account, nil
}

// postJSON sends body and decodes a 2xx response into out when out is set.
func postJSON(client *http.Client, url string, body any, out any) (int, error) {
	if client == nil {
		client = http.DefaultClient
	}
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, url, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

type mailpitSearch struct {
	Messages []struct {
		ID string `json:"ID"`
	} `json:"messages"`
}

type mailpitMessage struct {
	Text string `json:"Text"`
}

// waitForOTP polls mailpit until at least want messages reached email and
// returns the code from the newest one.
func waitForOTP(email string, want int) (string, error) {
	deadline := time.Now().Add(otpWaitTime)
	query := url.QueryEscape(fmt.Sprintf("to:%q", email))

	for time.Now().Before(deadline) {
		var search mailpitSearch
		if err := getJSON(mailpitAPI+"/search?query="+query, &search); err == nil && len(search.Messages) >= want {
			var msg mailpitMessage
			if err := getJSON(mailpitAPI+"/message/"+search.Messages[0].ID, &msg); err != nil {
				return "", err
			}
			match := otpPattern.FindStringSubmatch(msg.Text)
			if match == nil {
				return "", fmt.Errorf("no code in message %q", msg.Text)
			}
			return match[1], nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return "", fmt.Errorf("no otp email for %s", email)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wrongCode(code string) string {
	n, _ := strconv.Atoi(code)
	if n == 9999 {
		return "1000"
	}
	return strconv.Itoa(n + 1)
}

func setTestEnv() {
	_ = os.Setenv("ACCESS_TOKEN_SECRET", "test-access-secret")
	_ = os.Setenv("REFRESH_TOKEN_SECRET", "test-refresh-secret")
	_ = os.Setenv("SERVER_PORT", strconv.Itoa(serverPort))
	_ = os.Setenv("DB_DRIVER", "postgres")
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "taskhub")
	_ = os.Setenv("DB_PASSWORD", "taskhub")
	_ = os.Setenv("DB_NAME", "taskhub")
	_ = os.Setenv("DB_SSL", "false")
	_ = os.Setenv("REDIS_ADDR", "localhost:6379")
	_ = os.Setenv("MAIL_TRANSPORT", "smtp")
	_ = os.Setenv("SMTP_HOST", "localhost")
	_ = os.Setenv("SMTP_PORT", "1025")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "taskhub-avatars")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer(ctx context.Context) (*server.Server, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	srv, err := server.New(ctx, cfg, zerolog.New(os.Stderr))
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
