package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig targets any OpenAI-compatible chat completions endpoint, including Ollama's own
// /v1 compatibility layer.
type OpenAIConfig struct {
	Url          string        `json:"url,omitempty" yaml:"url,omitempty"`
	Token        string        `json:"token,omitempty" yaml:"token,omitempty"`
	Organization string        `json:"organization,omitempty" yaml:"organization,omitempty"`
	Model        string        `json:"model" yaml:"model"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	Retry        RetryPolicy   `json:"retry" yaml:"retry"`
}

func NewOpenAI(log *slog.Logger, cfg OpenAIConfig, opts ...Option) (Client, error) {
	if cfg.Model == "" {
		return nil, errors.Errorf("openai backend requires a model")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	cfg.Timeout = lo.If(cfg.Timeout != 0, cfg.Timeout).Else(DefaultTimeout)

	o := applyOptions(opts)
	llmOpts := []openai.Option{
		// local OpenAI-compatible servers ignore the token but the SDK requires one
		openai.WithToken(lo.If(cfg.Token != "", cfg.Token).Else("ollama")),
		openai.WithModel(cfg.Model),
	}
	if cfg.Url != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.Url))
	}
	if cfg.Organization != "" {
		llmOpts = append(llmOpts, openai.WithOrganization(cfg.Organization))
	}
	if o.httpClient != nil {
		llmOpts = append(llmOpts, openai.WithHTTPClient(o.httpClient))
	}
	client, err := openai.New(llmOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to init openai client")
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("backend", "openai")
	return &openaiClient{
		cfg:    cfg,
		client: client,
		runner: newRunner(log, cfg.Retry, cfg.Timeout, o),
	}, nil
}

type openaiClient struct {
	cfg    OpenAIConfig
	client *openai.LLM
	runner *runner
}

func (o *openaiClient) Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error) {
	model := lo.If(request.Model != "", request.Model).Else(o.cfg.Model)
	var contents []llms.MessageContent
	if request.System != "" {
		contents = append(contents, llms.TextParts(llms.ChatMessageTypeSystem, request.System))
	}
	contents = append(contents, llms.TextParts(llms.ChatMessageTypeHuman, request.Prompt))
	callOpts := append(callOptions(request.Options), llms.WithModel(model))

	return o.runner.run(ctx, model, func(ctx context.Context) (string, error) {
		res, err := o.client.GenerateContent(ctx, contents, callOpts...)
		if err != nil {
			return "", classifyRemote(err)
		}
		if len(res.Choices) == 0 {
			return "", protocolErr(0, errors.Errorf("response does not contain any result"))
		}
		return res.Choices[0].Content, nil
	})
}

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// classifyRemote maps SDK errors, which only carry the HTTP status in their message.
func classifyRemote(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return protocolErr(0, err)
	}
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return classifyStatus(code, err)
	}
	return unavailable(0, err)
}

func callOptions(options map[string]any) []llms.CallOption {
	var res []llms.CallOption
	if v, ok := number(options["temperature"]); ok {
		res = append(res, llms.WithTemperature(v))
	}
	if v, ok := number(options["top_p"]); ok {
		res = append(res, llms.WithTopP(v))
	}
	if v, ok := number(lo.If(options["num_predict"] != nil, options["num_predict"]).Else(options["max_tokens"])); ok {
		res = append(res, llms.WithMaxTokens(int(v)))
	}
	if v, ok := number(options["seed"]); ok {
		res = append(res, llms.WithSeed(int(v)))
	}
	switch stop := options["stop"].(type) {
	case []string:
		res = append(res, llms.WithStopWords(stop))
	case []any:
		res = append(res, llms.WithStopWords(lo.FilterMap(stop, func(s any, _ int) (string, bool) {
			str, ok := s.(string)
			return str, ok
		})))
	}
	return res
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
