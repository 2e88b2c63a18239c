package llm

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

const (
	DeviceAuto = "auto"
	DeviceGPU  = "gpu"
	DeviceCPU  = "cpu"
)

type OllamaConfig struct {
	BaseURL   string
	Model     string
	ModelPath string
	Device    string
	GPULayers int
	Timeout   time.Duration
}

// Ollama generates text through a local Ollama runtime in raw prompt mode.
type Ollama struct {
	baseURL string
	model   string
	mode    Mode
	numGPU  int
	client  *http.Client
	logger  *slog.Logger
}

type ollamaOptions struct {
	NumPredict    *int     `json:"num_predict,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	NumGPU        int      `json:"num_gpu"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

type createRequest struct {
	Model  string            `json:"model"`
	Files  map[string]string `json:"files"`
	Stream bool              `json:"stream"`
}

// LoadOllama registers the weight file with the runtime under the model name,
// then warms the model according to the device policy. With DeviceAuto the accelerated mode is tried first and baseline is the
// fallback; the returned client is in exactly one mode.
func LoadOllama(ctx context.Context, cfg OllamaConfig, logger *slog.Logger) (*Ollama, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrModelLoad)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrModelLoad)
	}
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, fmt.Errorf("%w: model path is required", ErrModelLoad)
	}
	info, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: model file %q: %w", ErrModelLoad, cfg.ModelPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: model file %q is a directory", ErrModelLoad, cfg.ModelPath)
	}

	gpuLayers := cfg.GPULayers
	if gpuLayers <= 0 {
		gpuLayers = 999
	}
	var modes []Mode
	switch strings.ToLower(strings.TrimSpace(cfg.Device)) {
	case "", DeviceAuto:
		modes = []Mode{ModeAccelerated, ModeBaseline}
	case DeviceGPU:
		modes = []Mode{ModeAccelerated}
	case DeviceCPU:
		modes = []Mode{ModeBaseline}
	default:
		return nil, fmt.Errorf("%w: unsupported device %q", ErrModelLoad, cfg.Device)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	client := &Ollama{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}

	if err := client.provision(ctx, cfg.ModelPath, info.Size()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, model, err)
	}

	var lastErr error
	for _, mode := range modes {
		numGPU := 0
		if mode == ModeAccelerated {
			numGPU = gpuLayers
		}
		if err := client.warm(ctx, numGPU); err != nil {
			lastErr = err
			logger.Warn("model load failed", slog.String("model", model), slog.String("mode", string(mode)), slog.Any("error", err))
			continue
		}
		client.mode = mode
		client.numGPU = numGPU
		logger.Info("model loaded", slog.String("model", model), slog.String("mode", string(mode)), slog.Int("num_gpu", numGPU))
		return client, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, model, lastErr)
}

func (o *Ollama) Name() string { return o.model }
func (o *Ollama) Mode() Mode   { return o.mode }

// provision uploads the weight file as a content-addressed blob unless the
// runtime already holds it, then (re)creates the model from that blob so the
// name always serves the configured file.
func (o *Ollama) provision(ctx context.Context, path string, size int64) error {
	digest, err := fileDigest(path)
	if err != nil {
		return err
	}
	blobURL := o.baseURL + "/api/blobs/" + digest

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, blobURL, nil)
	if err != nil {
		return fmt.Errorf("build blob check: %w", err)
	}
	resp, err := o.client.Do(headReq)
	if err != nil {
		return fmt.Errorf("check blob: %w", err)
	}
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		o.logger.Debug("model blob present", slog.String("digest", digest))
	case http.StatusNotFound:
		if err := o.upload(ctx, blobURL, path, size); err != nil {
			return err
		}
		o.logger.Info("model blob uploaded", slog.String("digest", digest), slog.Int64("bytes", size))
	default:
		return fmt.Errorf("check blob: status=%d", resp.StatusCode)
	}

	body, err := json.Marshal(createRequest{
		Model: o.model,
		Files: map[string]string{filepath.Base(path): digest},
	})
	if err != nil {
		return fmt.Errorf("marshal create payload: %w", err)
	}
	createReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/create", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build create request: %w", err)
	}
	createReq.Header.Set("Content-Type", "application/json")
	return o.expectOK(o.client, createReq, "create model")
}

func (o *Ollama) upload(ctx context.Context, blobURL, path string, size int64) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open model file: %w", err)
	}
	defer func() { _ = file.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, blobURL, file)
	if err != nil {
		return fmt.Errorf("build blob upload: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	// Weight files are large; the transfer is bounded by ctx only.
	return o.expectOK(&http.Client{Transport: o.client.Transport}, req, "upload blob")
}

func (o *Ollama) expectOK(client *http.Client, req *http.Request, action string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		rawBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s failed status=%d body=%s", action, resp.StatusCode, strings.TrimSpace(string(rawBody)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func fileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open model file: %w", err)
	}
	defer func() { _ = file.Close() }()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash model file: %w", err)
	}
	return "sha256:" + hex.EncodeToString(hash.Sum(nil)), nil
}

// warm issues an empty prompt, which makes the runtime load the weights.
func (o *Ollama) warm(ctx context.Context, numGPU int) error {
	resp, err := o.post(ctx, ollamaRequest{
		Model:   o.model,
		Options: ollamaOptions{NumGPU: numGPU},
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var chunk ollamaChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return fmt.Errorf("decode load response: %w", err)
	}
	if chunk.Error != "" {
		return fmt.Errorf("runtime error: %s", chunk.Error)
	}
	return nil
}

func (o *Ollama) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return Collect(o.Stream(ctx, prompt, opts))
}

func (o *Ollama) Stream(ctx context.Context, prompt string, opts Options) iter.Seq2[string, error] {
	var consumed atomic.Bool
	return func(yield func(string, error) bool) {
		if consumed.Swap(true) {
			yield("", fmt.Errorf("%w: stream already consumed", ErrGeneration))
			return
		}
		resp, err := o.post(ctx, ollamaRequest{
			Model:   o.model,
			Prompt:  prompt,
			Raw:     true,
			Stream:  true,
			Options: o.options(opts),
		})
		if err != nil {
			yield("", generationError(ctx, err))
			return
		}
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				yield("", fmt.Errorf("%w: decode stream chunk: %w", ErrGeneration, err))
				return
			}
			if chunk.Error != "" {
				yield("", fmt.Errorf("%w: runtime error: %s", ErrGeneration, chunk.Error))
				return
			}
			if chunk.Response != "" && !yield(chunk.Response, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", generationError(ctx, fmt.Errorf("read stream: %w", err)))
			return
		}
		yield("", fmt.Errorf("%w: stream ended before completion", ErrGeneration))
	}
}

func (o *Ollama) options(opts Options) ollamaOptions {
	return ollamaOptions{
		NumPredict:    positiveInt(opts.MaxTokens),
		Temperature:   &opts.Temperature,
		TopK:          positiveInt(opts.Sampling.TopK),
		TopP:          positiveFloat(opts.Sampling.TopP),
		RepeatPenalty: positiveFloat(opts.Sampling.RepeatPenalty),
		NumGPU:        o.numGPU,
	}
}

func (o *Ollama) post(ctx context.Context, payload ollamaRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request generation: %w", err)
	}
	if resp.StatusCode >= 400 {
		rawBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("generate failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(rawBody)))
	}
	return resp, nil
}

func generationError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: interrupted: %w", ErrGeneration, ctxErr)
	}
	return fmt.Errorf("%w: %w", ErrGeneration, err)
}

func positiveInt(value int) *int {
	if value <= 0 {
		return nil
	}
	return &value
}

func positiveFloat(value float64) *float64 {
	if value <= 0 {
		return nil
	}
	return &value
}
