package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/emobot/internal/config"
	"github.com/kalambet/emobot/internal/matching"
	"github.com/kalambet/emobot/internal/profile"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with the given JSON bodies and
// 404s everything else.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if resp, ok := responses[r.Method+" "+r.URL.Path]; ok {
			w.Write([]byte(resp))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"profile not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return newClient(ts.server.URL, "test-token")
}

func (ts *testServer) last(t *testing.T) recordedRequest {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	return ts.requests[len(ts.requests)-1]
}

// execute runs the CLI against ts and returns what the command wrote to
// stdout.
func execute(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	oldOut, oldErr, oldClient, oldColor := stdout, stderr, newAPIClient, noColor
	stdout, stderr, noColor = &out, &errOut, true
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() {
		stdout, stderr, newAPIClient, noColor = oldOut, oldErr, oldClient, oldColor
	})

	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

const anaJSON = `{"identity":"1","display_name":"Ana","categories":{"games":["Chess","Go"],"artists":[],"interests":["hiking"]},"scanning_enabled":true}`

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /profiles/1": anaJSON})

	var p profile.Profile
	if err := ts.client().get(context.Background(), "/profiles/1", &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.last(t).Auth; got != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", got)
	}
	if p.DisplayName != "Ana" || len(p.Categories.Games) != 2 {
		t.Errorf("decoded profile = %+v", p)
	}
}

func TestAPIClient_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, nil)

	err := ts.client().get(context.Background(), "/profiles/nobody", nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "profile not found") {
		t.Errorf("error = %q, want status and server message", err)
	}
}

func TestAPIClient_Unreachable(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.client()
	ts.server.Close()

	err := c.get(context.Background(), "/health", nil)
	if err == nil || !strings.Contains(err.Error(), "is emobot running") {
		t.Errorf("error = %v, want unreachable hint", err)
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{"127.0.0.1:4100", "http://127.0.0.1:4100"},
		{":8080", "http://127.0.0.1:8080"},
		{"0.0.0.0:9000", "http://127.0.0.1:9000"},
		{"[::]:9000", "http://127.0.0.1:9000"},
		{"bot.internal:80", "http://bot.internal:80"},
	}
	for _, tt := range tests {
		cfg := config.Config{Server: config.ServerConfig{Listen: tt.listen}}
		if got := serverURL(cfg); got != tt.want {
			t.Errorf("serverURL(%q) = %q, want %q", tt.listen, got, tt.want)
		}
	}
}

func TestProfileShow(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /profiles/1": anaJSON})

	out, err := execute(t, ts, "profile", "show", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Ana's Profile", "Games: Chess, Go", "Artists: (none)", "Interests: hiking", "Message Scanning: Enabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProfileAdd(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /profiles/1/items": `{"profile":` + anaJSON + `,"already_present":false,"notifications":2}`,
	})

	if _, err := execute(t, ts, "profile", "add", "1", "games", "Hollow", "Knight", "--name", "Ana"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := ts.last(t)
	if r.Method != http.MethodPost || r.Path != "/profiles/1/items" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["category"] != "games" || body["item"] != "Hollow Knight" || body["display_name"] != "Ana" {
		t.Errorf("body = %v", body)
	}
}

func TestProfileAdd_InvalidCategory(t *testing.T) {
	ts := newTestServer(t, nil)

	if _, err := execute(t, ts, "profile", "add", "1", "movies", "Alien"); err == nil {
		t.Fatal("expected error for unknown category")
	}
	if len(ts.requests) != 0 {
		t.Errorf("request sent for invalid category: %+v", ts.requests)
	}
}

func TestProfileRemove_QueryEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{"DELETE /profiles/1/items": anaJSON})

	if _, err := execute(t, ts, "profile", "remove", "1", "artists", "Simon", "&", "Garfunkel"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := ts.last(t).Path
	if !strings.Contains(path, "category=artists") || !strings.Contains(path, "item=Simon+%26+Garfunkel") {
		t.Errorf("path = %q, want encoded query", path)
	}
}

func TestProfileScanning(t *testing.T) {
	ts := newTestServer(t, map[string]string{"PUT /profiles/1/scanning": anaJSON})

	if _, err := execute(t, ts, "profile", "scanning", "1", "off"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := ts.last(t).Body; !strings.Contains(body, `"enabled":false`) {
		t.Errorf("body = %s, want enabled false", body)
	}
}

func TestParseToggle(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"on", true, false},
		{" ON ", true, false},
		{"enable", true, false},
		{"off", false, false},
		{"no", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		got, err := parseToggle(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseToggle(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestMatchesCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /profiles/1": anaJSON,
		"GET /profiles/1/matches": `[{"profile":{"identity":"2","display_name":"Bo",` +
			`"categories":{"games":["chess"],"artists":[],"interests":[]},"scanning_enabled":true},"score":0.6667}]`,
	})

	out, err := execute(t, ts, "matches", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "1. Bo 67%") {
		t.Errorf("output missing ranked match:\n%s", out)
	}
	if !strings.Contains(out, "Games: Chess") {
		t.Errorf("output missing common games:\n%s", out)
	}
}

func TestPrintMatches_Empty(t *testing.T) {
	var buf bytes.Buffer
	printMatches(&buf, profile.New("1", "Ana"), []matching.Match{})
	if !strings.Contains(buf.String(), "No matches") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestEnrichRun_Wait(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /enrichment/run": `{"id":"c-1","trigger":"manual","started_at":"2026-01-02T03:04:05Z","duration":1500000000,` +
			`"identities":3,"updated":1,"unchanged":1,"insufficient":1,"notifications":2}`,
	})

	out, err := execute(t, ts, "enrich", "run", "--wait")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path := ts.last(t).Path; path != "/enrichment/run?wait=true" {
		t.Errorf("path = %q", path)
	}
	for _, want := range []string{"cycle c-1 (manual)", "took 1.5s", "updated: 1", "notifications: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEnrichStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /enrichment/status": `{"state":"processing"}`})

	out, err := execute(t, ts, "enrich", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "state: processing") || !strings.Contains(out, "no cycle has completed yet") {
		t.Errorf("output = %q", out)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorRed, "test"); strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorRed, "test"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Discord.Token = "secret"
	cfg.Discord.GuildID = "42"

	var token, guild string
	for _, k := range config.ShowAll(cfg) {
		switch k.Key {
		case "discord.token":
			token = k.Value
		case "discord.guild_id":
			guild = k.Value
		}
	}
	if token == "secret" || token == "" {
		t.Errorf("discord.token shown as %q, want masked", token)
	}
	if guild != "42" {
		t.Errorf("discord.guild_id = %q, want 42", guild)
	}
}
