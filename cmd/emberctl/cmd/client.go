package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultServer = "http://localhost:8080"

// client is a thin wrapper over the server's REST API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

// newClient builds a client from flags, falling back to the
// EMBERWATCH_SERVER and EMBERWATCH_TOKEN environment variables.
func newClient() (*client, error) {
	server := serverURL
	if server == "" {
		server = os.Getenv("EMBERWATCH_SERVER")
	}
	if server == "" {
		server = defaultServer
	}

	token := apiToken
	if token == "" {
		token = os.Getenv("EMBERWATCH_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("no API token: set --token or EMBERWATCH_TOKEN")
	}

	return &client{
		baseURL: strings.TrimRight(server, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// envelope is the standard response wrapper. The history endpoint
// returns its object bare, so do() falls back to decoding the whole
// body when neither data nor error is present.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	PrintVerbose("%s %s", req.Method, req.URL)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if env.Error != nil {
		return fmt.Errorf("%s (%s)", env.Error.Message, env.Error.Code)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(body, out)
}

// printJSON renders any response value for -o json.
func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		PrintError(fmt.Sprintf("failed to marshal JSON: %v", err), false)
		return
	}
	fmt.Println(string(data))
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}

// formatTime reformats an RFC3339 timestamp for table output.
func formatTime(s string) string {
	if s == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
