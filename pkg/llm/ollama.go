package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

type Route string

const (
	RouteChat     Route = "/api/chat"
	RouteGenerate Route = "/api/generate"
)

const (
	DefaultOllamaURL = "http://localhost:11434"
	DefaultModel     = "deepseek-r1:14b"
	DefaultTimeout   = 240 * time.Second

	maxErrorBody  = 64 << 10
	maxStreamLine = 8 << 20
)

type OllamaConfig struct {
	Url           string        `json:"url" yaml:"url"`
	ApiKey        string        `json:"apiKey,omitempty" yaml:"apiKey,omitempty"` // sent as a bearer token when set
	Model         string        `json:"model" yaml:"model"`
	Route         Route         `json:"route,omitempty" yaml:"route,omitempty"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"` // per attempt
	Retry         RetryPolicy   `json:"retry" yaml:"retry"`
	StripThinking bool          `json:"stripThinking" yaml:"stripThinking"`
}

func NewOllama(log *slog.Logger, cfg OllamaConfig, opts ...Option) (Client, error) {
	cfg.Url = strings.TrimSuffix(lo.If(cfg.Url != "", cfg.Url).Else(DefaultOllamaURL), "/")
	cfg.Model = lo.If(cfg.Model != "", cfg.Model).Else(DefaultModel)
	cfg.Route = lo.If(cfg.Route != "", cfg.Route).Else(RouteChat)
	cfg.Timeout = lo.If(cfg.Timeout != 0, cfg.Timeout).Else(DefaultTimeout)
	if cfg.Route != RouteChat && cfg.Route != RouteGenerate {
		return nil, errors.Errorf("unsupported ollama route %q", cfg.Route)
	}
	baseURL, err := url.Parse(cfg.Url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ollama url %q", cfg.Url)
	}
	if (baseURL.Scheme != "http" && baseURL.Scheme != "https") || baseURL.Host == "" {
		return nil, errors.Errorf("invalid ollama url %q: expected http(s)://host[:port]", cfg.Url)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: bearerTransport(cfg.ApiKey, http.DefaultTransport)}
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("backend", "ollama", "url", cfg.Url)
	return &ollamaClient{
		log:      log,
		cfg:      cfg,
		endpoint: cfg.Url + string(cfg.Route),
		http:     httpClient,
		runner:   newRunner(log, cfg.Retry, cfg.Timeout, o),
	}, nil
}

type ollamaClient struct {
	log      *slog.Logger
	cfg      OllamaConfig
	endpoint string
	http     *http.Client
	runner   *runner
}

type RoundTripFn func(req *http.Request) (*http.Response, error)

func (f RoundTripFn) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func bearerTransport(apiKey string, next http.RoundTripper) http.RoundTripper {
	if apiKey == "" {
		return next
	}
	return RoundTripFn(func(req *http.Request) (*http.Response, error) {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))
		return next.RoundTrip(req)
	})
}

func (o *ollamaClient) Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error) {
	model := lo.If(request.Model != "", request.Model).Else(o.cfg.Model)
	body, err := o.requestBody(model, request)
	if err != nil {
		return nil, &Failure{
			Kind:    ErrorClient,
			Message: "failed to serialize request",
			Cause:   err,
		}
	}

	res, err := o.runner.run(ctx, model, func(ctx context.Context) (string, error) {
		return o.attempt(ctx, body, request.Stream)
	})
	if err != nil {
		return nil, err
	}
	if o.cfg.StripThinking && IsThinkingModel(model) {
		res.Response = ExtractFinalResponse(res.Response, model)
	}
	return res, nil
}

func (o *ollamaClient) requestBody(model string, request GenerateRequest) ([]byte, error) {
	stream := request.Stream
	options := lo.Assign(request.Options)
	if o.cfg.Route == RouteGenerate {
		return json.Marshal(&api.GenerateRequest{
			Model:   model,
			Prompt:  request.Prompt,
			System:  request.System,
			Stream:  &stream,
			Options: options,
		})
	}
	var messages []api.Message
	if request.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: request.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: request.Prompt})
	return json.Marshal(&api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	})
}

func (o *ollamaClient) attempt(ctx context.Context, body []byte, stream bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", clientErr(0, errors.Wrapf(err, "failed to init request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", lo.If(stream, "application/x-ndjson").Else("application/json"))

	resp, err := o.http.Do(req)
	if err != nil {
		return "", unavailable(0, errors.Wrapf(err, "failed to reach %s", o.endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp)
	}
	if stream {
		return o.readStream(resp.StatusCode, resp.Body)
	}
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", unavailable(resp.StatusCode, errors.Wrapf(err, "failed to read response"))
	}
	c, err := o.decode(resp.StatusCode, respBytes)
	if err != nil {
		return "", err
	}
	return c.text, nil
}

func statusError(resp *http.Response) error {
	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := api.StatusError{
		StatusCode:   resp.StatusCode,
		Status:       resp.Status,
		ErrorMessage: strings.TrimSpace(string(respBytes)),
	}
	if msg := gjson.GetBytes(respBytes, "error"); gjson.ValidBytes(respBytes) && msg.Exists() {
		cause.ErrorMessage = msg.String()
	}
	return classifyStatus(resp.StatusCode, cause)
}

type chunk struct {
	text string
	done bool
}

func (o *ollamaClient) textPath() string {
	if o.cfg.Route == RouteGenerate {
		return "response"
	}
	return "message.content"
}

func (o *ollamaClient) decode(statusCode int, data []byte) (chunk, error) {
	if !gjson.ValidBytes(data) {
		return chunk{}, protocolErr(statusCode, errors.Errorf("malformed response body: %q", truncate(data, 200)))
	}
	if msg := gjson.GetBytes(data, "error"); msg.Exists() {
		return chunk{}, unavailable(statusCode, errors.Errorf("ollama returned error: %s", msg.String()))
	}
	if text := gjson.GetBytes(data, o.textPath()); !text.Exists() || text.Type != gjson.String {
		return chunk{}, protocolErr(statusCode, errors.Errorf("response has no %q text: %q", o.textPath(), truncate(data, 200)))
	}

	if o.cfg.Route == RouteGenerate {
		var res api.GenerateResponse
		if err := json.Unmarshal(data, &res); err != nil {
			return chunk{}, protocolErr(statusCode, errors.Wrapf(err, "failed to unmarshal generate response"))
		}
		return chunk{text: res.Response, done: res.Done}, nil
	}
	var res api.ChatResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return chunk{}, protocolErr(statusCode, errors.Wrapf(err, "failed to unmarshal chat response"))
	}
	return chunk{text: res.Message.Content, done: res.Done}, nil
}

func (o *ollamaClient) readStream(statusCode int, body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxStreamLine)

	resBuf := strings.Builder{}
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		c, err := o.decode(statusCode, line)
		if err != nil {
			return "", err
		}
		resBuf.WriteString(c.text)
		if c.done {
			return resBuf.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", unavailable(statusCode, errors.Wrapf(err, "failed to read stream"))
	}
	return "", protocolErr(statusCode, errors.Errorf("stream ended before the final chunk"))
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
