package task

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	defaultRowsURL = "https://datasets-server.huggingface.co"
	rowsPageSize   = 100
)

// Dataset identifies a split of a public dataset.
type Dataset struct {
	Name   string // e.g. "princeton-nlp/SWE-bench_Lite"
	Config string
	Split  string
}

// KnownDatasets maps short names accepted on the command line to datasets.
var KnownDatasets = map[string]Dataset{
	"swe-bench":          {Name: "princeton-nlp/SWE-bench", Config: "default", Split: "test"},
	"swe-bench-lite":     {Name: "princeton-nlp/SWE-bench_Lite", Config: "default", Split: "test"},
	"swe-bench-verified": {Name: "princeton-nlp/SWE-bench_Verified", Config: "default", Split: "test"},
}

// ResolveDataset maps a short name or an "owner/name[:split]" reference to a
// Dataset.
func ResolveDataset(ref string) (Dataset, error) {
	if ds, ok := KnownDatasets[strings.ToLower(ref)]; ok {
		return ds, nil
	}
	name, split, _ := strings.Cut(ref, ":")
	if !strings.Contains(name, "/") {
		return Dataset{}, fmt.Errorf("unknown dataset %q", ref)
	}
	if split == "" {
		split = "test"
	}
	return Dataset{Name: name, Config: "default", Split: split}, nil
}

// DatasetClient fetches task rows from the public dataset rows API.
type DatasetClient struct {
	BaseURL    string
	Token      string // optional bearer token for gated datasets
	HTTPClient *http.Client
}

// RowsURLEnv names the variable that points the client at another rows
// endpoint, such as a mirror.
const RowsURLEnv = "GAUNTLET_ROWS_URL"

// NewDatasetClient returns a client for the public endpoint, or the one
// named by RowsURLEnv. The token is read from HF_TOKEN when set.
func NewDatasetClient() *DatasetClient {
	base := os.Getenv(RowsURLEnv)
	if base == "" {
		base = defaultRowsURL
	}
	return &DatasetClient{
		BaseURL:    base,
		Token:      os.Getenv("HF_TOKEN"),
		HTTPClient: http.DefaultClient,
	}
}

type rowsResponse struct {
	Rows []struct {
		RowIdx int    `json:"row_idx"`
		Row    record `json:"row"`
	} `json:"rows"`
	NumRowsTotal int    `json:"num_rows_total"`
	Error        string `json:"error"`
}

// Fetch returns up to limit tasks from ds, paging as needed. limit <= 0
// fetches the whole split.
func (c *DatasetClient) Fetch(ctx context.Context, ds Dataset, limit int) ([]Task, error) {
	var tasks []Task
	offset := 0
	for {
		length := rowsPageSize
		if limit > 0 {
			length = min(length, limit-len(tasks))
		}
		page, total, err := c.fetchPage(ctx, ds, offset, length)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, page...)
		offset += len(page)
		if len(page) == 0 || offset >= total || (limit > 0 && len(tasks) >= limit) {
			break
		}
	}
	if err := Validate(tasks); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
	}
	return tasks, nil
}

func (c *DatasetClient) fetchPage(ctx context.Context, ds Dataset, offset, length int) ([]Task, int, error) {
	q := url.Values{}
	q.Set("dataset", ds.Name)
	q.Set("config", ds.Config)
	q.Set("split", ds.Split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(length))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+"/rows?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s rows: %w", ds.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s rows: %w", ds.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch %s rows: status %d: %s", ds.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rr rowsResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, 0, fmt.Errorf("decode %s rows: %w", ds.Name, err)
	}
	if rr.Error != "" {
		return nil, 0, fmt.Errorf("fetch %s rows: %s", ds.Name, rr.Error)
	}

	tasks := make([]Task, 0, len(rr.Rows))
	for _, row := range rr.Rows {
		tasks = append(tasks, row.Row.toTask())
	}
	return tasks, rr.NumRowsTotal, nil
}

// Load reads tasks from a local file when source names one, and otherwise
// treats source as a dataset reference.
func Load(ctx context.Context, source string, limit int) ([]Task, error) {
	if _, err := os.Stat(source); err == nil {
		tasks, err := LoadFile(source)
		if err != nil {
			return nil, err
		}
		return Limit(tasks, limit), nil
	}
	ds, err := ResolveDataset(source)
	if err != nil {
		return nil, err
	}
	return NewDatasetClient().Fetch(ctx, ds, limit)
}
