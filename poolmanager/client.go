// Package poolmanager talks to the external pool-manager service: paginated
// pool listing over REST, and a long-lived SSE stream of pool lifecycle
// events.
package poolmanager

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const basePath = "/api/v1/pools"

// Node is one node contributing capacity to a pool, as reported by the
// pool manager.
type Node struct {
	Name string `json:"name"`
	CPU  int64  `json:"cpu"`
	RAM  int64  `json:"ram"`
}

// Pool is the pool-manager's view of a resource pool. Operation is non-nil
// exactly while the pool manager has a lifecycle operation in flight against
// the pool (scaling, draining, deleting); its presence, not its contents,
// marks the pool locked.
type Pool struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Operation *json.RawMessage `json:"operation"`
	RSAvail   struct {
		CPUTotal  int64  `json:"cpu_total"`
		RAMTotal  int64  `json:"ram_total"`
		NodeCount int    `json:"node_count"`
		Nodes     []Node `json:"nodes"`
	} `json:"rs_avail"`
}

// Locked reports whether the pool manager currently has an operation in
// flight against this pool.
func (p Pool) Locked() bool {
	return p.Operation != nil
}

type listResult struct {
	PgNum  int    `json:"pg_num"`
	PgSize int    `json:"pg_size"`
	Items  []Pool `json:"items"`
}

type listEnvelope struct {
	Result listResult `json:"result"`
}

// Client is an HTTP client for the pool-manager API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a pool-manager client against baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// ListPools fetches every pool known to the pool manager, following pages
// until a short or empty page is returned.
func (c *Client) ListPools(ctx context.Context) ([]Pool, error) {
	var out []Pool
	pgNum := 0

	for {
		url := fmt.Sprintf("%s%s?pg_num=%d", c.baseURL, basePath, pgNum)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}

		var env listEnvelope
		err = json.NewDecoder(resp.Body).Decode(&env)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode pool list page %d: %w", pgNum, err)
		}
		if resp.StatusCode/100 != 2 {
			return nil, fmt.Errorf("pool manager returned status %d on page %d", resp.StatusCode, pgNum)
		}

		items := env.Result.Items
		if len(items) == 0 {
			break
		}
		out = append(out, items...)
		if len(items) < env.Result.PgSize {
			break
		}
		pgNum++
	}

	return out, nil
}

// Event is one SSE event from the pool event stream: a named type plus its
// raw JSON data payload.
type Event struct {
	Type string
	Data string
}

// EventStream subscribes to the pool manager's SSE event stream and sends
// parsed events to the returned channel until ctx is cancelled or the
// connection drops. Callers should reconnect (see poolevents.Listener).
func (c *Client) EventStream(ctx context.Context) (<-chan Event, error) {
	url := c.baseURL + basePath + "/event-stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("pool manager event stream returned status %d", resp.StatusCode)
	}

	ch := make(chan Event)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		scanSSE(resp.Body, ch)
	}()
	return ch, nil
}

// scanSSE parses a minimal subset of the SSE wire format: "event:" and
// "data:" fields, terminated by a blank line.
func scanSSE(body io.Reader, ch chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var evtType string
	var dataLines []string

	flush := func() {
		if evtType == "" && len(dataLines) == 0 {
			return
		}
		ch <- Event{Type: evtType, Data: strings.Join(dataLines, "\n")}
		evtType = ""
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			evtType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment/keepalive line, ignore
		}
	}
	flush()
}
