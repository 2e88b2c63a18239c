package nlqctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	defaultBaseURL = "http://localhost:5000"
	// Generation on CPU can take minutes.
	defaultTimeout = 5 * time.Minute
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// request is one API call derived from the command line.
type request struct {
	method string
	path   string
	body   any
	// rows marks responses carrying a "dados" array that -format table renders.
	rows bool
}

type command struct {
	usage string
	build func(text string, limit int) (request, error)
}

var errUsage = errors.New("usage")

var commands = map[string]command{
	"health": {usage: "GET /api", build: get("/api")},
	"ready":  {usage: "GET /ready", build: get("/ready")},
	"schema": {usage: "GET /schema", build: get("/schema")},
	"history": {usage: "GET /history?limit=N", build: func(_ string, limit int) (request, error) {
		if limit <= 0 {
			return request{}, fmt.Errorf("%w: limit must be positive", errUsage)
		}
		return request{method: http.MethodGet, path: "/history?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()}, nil
	}},
	"ask": {usage: "POST /nlq (question from args, or - for stdin)", build: func(text string, _ int) (request, error) {
		if text == "" {
			return request{}, fmt.Errorf("%w: ask requires a question", errUsage)
		}
		return request{method: http.MethodPost, path: "/nlq", body: map[string]string{"pergunta": text}, rows: true}, nil
	}},
	"sql": {usage: "POST /sql (statement from args, or - for stdin)", build: func(text string, _ int) (request, error) {
		if text == "" {
			return request{}, fmt.Errorf("%w: sql requires a statement", errUsage)
		}
		return request{method: http.MethodPost, path: "/sql", body: map[string]string{"sql": text}, rows: true}, nil
	}},
}

var commandOrder = []string{"health", "ready", "schema", "history", "ask", "sql"}

func get(path string) func(string, int) (request, error) {
	return func(string, int) (request, error) {
		return request{method: http.MethodGet, path: path}, nil
	}
}

// Run executes one nlqctl command and returns the process exit code: 0 on
// success, 1 on request or HTTP failures and 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := writerOr(defaults.Stdout)
	stderr := writerOr(defaults.Stderr)

	flags := flag.NewFlagSet("nlqctl", flag.ContinueOnError)
	flags.SetOutput(stderr)
	baseURL := flags.String("base-url", valueOr(strings.TrimSpace(defaults.BaseURL), defaultBaseURL), "nlq API base URL")
	apiKey := flags.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := flags.Duration("timeout", valueOr(defaults.Timeout, defaultTimeout), "HTTP timeout (e.g. 90s)")
	limit := flags.Int("limit", 20, "number of history entries")
	format := flags.String("format", "json", "output format for ask and sql: json|table")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	if *format != "json" && *format != "table" {
		_, _ = fmt.Fprintf(stderr, "unknown format %q\n", *format)
		return 2
	}

	name := strings.TrimSpace(flags.Arg(0))
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}
	text, err := argumentText(flags.Args()[1:], defaults.Stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read stdin: %v\n", err)
		return 1
	}
	req, err := cmd.build(text, *limit)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, strings.TrimPrefix(err.Error(), errUsage.Error()+": "))
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	status, body, err := send(ctx, client, strings.TrimRight(*baseURL, "/")+req.path, *apiKey, req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if status >= http.StatusBadRequest {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", status, describeError(body))
		return 1
	}
	// Rejected statements arrive as 200 with an "erro" key.
	if message, rejected := rejection(body); req.rows && rejected {
		_, _ = fmt.Fprintf(stderr, "rejected: %s\n", message)
		return 1
	}

	if req.rows && *format == "table" {
		if err := renderTable(stdout, body); err != nil {
			_, _ = fmt.Fprintf(stderr, "render table: %v\n", err)
			return 1
		}
		return 0
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
	} else if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return 0
}

// argumentText joins the remaining arguments. A single "-" reads stdin instead.
func argumentText(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" && stdin != nil {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return strings.TrimSpace(strings.Join(args, " ")), nil
}

func send(ctx context.Context, client *http.Client, endpoint, apiKey string, req request) (int, []byte, error) {
	var payload io.Reader
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return 0, nil, err
		}
		payload = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, payload)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		httpReq.Header.Set("X-API-Key", key)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

// describeError prefers the API's "erro" message and appends the rejected SQL
// when the response carries one.
func describeError(body []byte) string {
	if message, ok := rejection(body); ok {
		return message
	}
	return strings.TrimSpace(string(body))
}

func rejection(body []byte) (string, bool) {
	var payload struct {
		Erro string `json:"erro"`
		SQL  string `json:"sql"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Erro == "" {
		return "", false
	}
	if payload.SQL != "" {
		return payload.Erro + " (sql: " + payload.SQL + ")", true
	}
	return payload.Erro, true
}

// prettyJSON indents raw without reordering object keys, so result rows keep
// their column order.
func prettyJSON(raw []byte) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return "", false
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return "", false
	}
	return out.String(), true
}

// renderTable prints the statement followed by "dados" as aligned columns in
// the order the server sent them.
func renderTable(w io.Writer, body []byte) error {
	var payload struct {
		SQL   string            `json:"sql"`
		Dados []json.RawMessage `json:"dados"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	if payload.SQL != "" {
		_, _ = fmt.Fprintf(w, "%s\n\n", payload.SQL)
	}

	var columns []string
	rows := make([][]string, 0, len(payload.Dados))
	for _, raw := range payload.Dados {
		keys, values, err := orderedObject(raw)
		if err != nil {
			return err
		}
		if columns == nil {
			columns = keys
		}
		rows = append(rows, values)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(columns) > 0 {
		_, _ = fmt.Fprintln(tw, strings.Join(columns, "\t"))
	}
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_, _ = fmt.Fprintf(tw, "(%d linhas)\n", len(rows))
	return tw.Flush()
}

// orderedObject decodes one flat JSON object keeping its key order.
func orderedObject(raw json.RawMessage) ([]string, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, nil, fmt.Errorf("row is not an object")
	}
	var keys, values []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		values = append(values, cellText(value))
	}
	return keys, values, nil
}

func cellText(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: nlqctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "\ncommands:")
	for _, name := range commandOrder {
		_, _ = fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].usage)
	}
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func valueOr[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}
