package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type reply struct {
	status int
	body   string
}

func chatBody(text string) string {
	return fmt.Sprintf(`{"model":"llama3.1:8b","created_at":"2024-08-01T10:00:00Z","message":{"role":"assistant","content":%q},"done":true}`, text)
}

// sequenceServer answers with the given replies in order and repeats the last one.
func sequenceServer(t *testing.T, replies ...reply) (*httptest.Server, *atomic.Int32) {
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		rep := replies[min(n, len(replies))-1]
		w.WriteHeader(rep.status)
		_, _ = io.WriteString(w, rep.body)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       maxAttempts,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          10 * time.Second,
	}
}

func newTestClient(t *testing.T, cfg OllamaConfig, opts ...Option) (Client, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	client, err := NewOllama(testLogger(), cfg, append([]Option{WithSleeper(sleeper.sleep)}, opts...)...)
	Expect(err).To(BeNil())
	return client, sleeper
}

func TestGenerateSucceedsAfterServerErrors(t *testing.T) {
	RegisterTestingT(t)

	srv, calls := sequenceServer(t,
		reply{http.StatusInternalServerError, `{"error":"boom"}`},
		reply{http.StatusInternalServerError, `{"error":"boom"}`},
		reply{http.StatusOK, chatBody("ok")},
	)
	client, sleeper := newTestClient(t, OllamaConfig{Url: srv.URL, Model: "llama3.1:8b", Retry: testPolicy(3)})

	res, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	Expect(err).To(BeNil())
	Expect(res.Response).To(Equal("ok"))
	Expect(res.Attempts).To(Equal(3))
	Expect(res.Model).To(Equal("llama3.1:8b"))
	Expect(calls.Load()).To(Equal(int32(3)))
	Expect(sleeper.recorded()).To(Equal([]time.Duration{time.Second, 2 * time.Second}))
}

func TestGenerateClientErrorIsNotRetried(t *testing.T) {
	RegisterTestingT(t)

	srv, calls := sequenceServer(t, reply{http.StatusNotFound, `{"error":"model \"nope\" not found, try pulling it first"}`})
	client, sleeper := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(3)})

	res, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi", Model: "nope"})
	Expect(res).To(BeNil())
	Expect(IsKind(err, ErrorClient)).To(BeTrue())
	f, _ := AsFailure(err)
	Expect(f.Attempts).To(Equal(1))
	Expect(f.StatusCode).To(Equal(http.StatusNotFound))
	Expect(f.Error()).To(ContainSubstring("not found"))
	Expect(calls.Load()).To(Equal(int32(1)))
	Expect(sleeper.recorded()).To(BeEmpty())
}

func TestGenerateExhaustsTransientFailures(t *testing.T) {
	RegisterTestingT(t)

	srv, calls := sequenceServer(t, reply{http.StatusServiceUnavailable, "server busy"})
	policy := RetryPolicy{MaxAttempts: 6, BaseDelay: time.Second, BackoffMultiplier: 3, MaxDelay: 10 * time.Second}
	client, sleeper := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: policy})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	Expect(IsKind(err, ErrorUnavailable)).To(BeTrue())
	f, _ := AsFailure(err)
	Expect(f.Attempts).To(Equal(6))
	Expect(f.StatusCode).To(Equal(http.StatusServiceUnavailable))
	Expect(calls.Load()).To(Equal(int32(6)))

	delays := sleeper.recorded()
	Expect(delays).To(Equal([]time.Duration{
		time.Second, 3 * time.Second, 9 * time.Second, 10 * time.Second, 10 * time.Second,
	}))
}

func TestGenerateMalformedBodyEndsAsProtocolError(t *testing.T) {
	RegisterTestingT(t)

	srv, calls := sequenceServer(t, reply{http.StatusOK, "<html>proxy error</html>"})
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(3)})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	Expect(IsKind(err, ErrorProtocol)).To(BeTrue())
	f, _ := AsFailure(err)
	Expect(f.Attempts).To(Equal(3))
	Expect(calls.Load()).To(Equal(int32(3)))
}

func TestGenerateUnexpectedSchemaIsRetried(t *testing.T) {
	RegisterTestingT(t)

	srv, calls := sequenceServer(t,
		reply{http.StatusOK, `{"text":"ok"}`},
		reply{http.StatusOK, chatBody("recovered")},
	)
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(3)})

	res, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	Expect(err).To(BeNil())
	Expect(res.Response).To(Equal("recovered"))
	Expect(calls.Load()).To(Equal(int32(2)))
}

func TestGenerateConnectionRefused(t *testing.T) {
	RegisterTestingT(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client, sleeper := newTestClient(t, OllamaConfig{Url: url, Retry: testPolicy(3)})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	Expect(IsKind(err, ErrorUnavailable)).To(BeTrue())
	f, _ := AsFailure(err)
	Expect(f.Attempts).To(Equal(3))
	Expect(f.StatusCode).To(Equal(0))
	Expect(f.Cause).NotTo(BeNil())
	Expect(sleeper.recorded()).To(HaveLen(2))
}

func TestGeneratePerAttemptTimeoutIsRetried(t *testing.T) {
	RegisterTestingT(t)

	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = io.WriteString(w, chatBody("second time lucky"))
	}))
	t.Cleanup(srv.Close)
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Timeout: 50 * time.Millisecond, Retry: testPolicy(3)})

	res, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	Expect(err).To(BeNil())
	Expect(res.Response).To(Equal("second time lucky"))
	Expect(res.Attempts).To(Equal(2))
}

func TestGenerateCancelDuringBackoff(t *testing.T) {
	RegisterTestingT(t)

	srv, calls := sequenceServer(t, reply{http.StatusBadGateway, "bad gateway"})
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, BackoffMultiplier: 2, MaxDelay: 2 * time.Hour}
	client, err := NewOllama(testLogger(), OllamaConfig{Url: srv.URL, Retry: policy})
	Expect(err).To(BeNil())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = client.Generate(ctx, GenerateRequest{Prompt: "hi"})
	Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
	Expect(IsKind(err, ErrorCancelled)).To(BeTrue())
	f, _ := AsFailure(err)
	Expect(f.Attempts).To(Equal(1))
	Expect(f.StatusCode).To(Equal(http.StatusBadGateway))
	Expect(calls.Load()).To(Equal(int32(1)))
}

func TestGenerateAlreadyCancelled(t *testing.T) {
	RegisterTestingT(t)

	srv, calls := sequenceServer(t, reply{http.StatusOK, chatBody("never")})
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(3)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Generate(ctx, GenerateRequest{Prompt: "hi"})
	Expect(IsKind(err, ErrorCancelled)).To(BeTrue())
	f, _ := AsFailure(err)
	Expect(f.Attempts).To(Equal(0))
	Expect(f.Cause).To(MatchError(context.Canceled))
	Expect(calls.Load()).To(Equal(int32(0)))
}

func TestGenerateSendsChatRequest(t *testing.T) {
	RegisterTestingT(t)

	var got map[string]any
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, chatBody("fine"))
	}))
	t.Cleanup(srv.Close)
	client, err := NewOllama(testLogger(), OllamaConfig{Url: srv.URL + "/", ApiKey: "secret", Model: "custom-model", Retry: testPolicy(1)})
	Expect(err).To(BeNil())

	options := map[string]any{"temperature": 0.2}
	_, err = client.Generate(context.Background(), GenerateRequest{
		Prompt:  "Hello, test message",
		System:  "You are terse.",
		Options: options,
	})
	Expect(err).To(BeNil())
	Expect(path).To(Equal("/api/chat"))
	Expect(auth).To(Equal("Bearer secret"))
	Expect(got["model"]).To(Equal("custom-model"))
	Expect(got["stream"]).To(Equal(false))
	Expect(got["options"]).To(Equal(map[string]any{"temperature": 0.2}))
	Expect(got["messages"]).To(Equal([]any{
		map[string]any{"role": "system", "content": "You are terse."},
		map[string]any{"role": "user", "content": "Hello, test message"},
	}))
	Expect(options).To(HaveLen(1))
}

func TestGenerateRoute(t *testing.T) {
	RegisterTestingT(t)

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Expect(r.URL.Path).To(Equal("/api/generate"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"model":"llama3.1:8b","response":"generated","done":true}`)
	}))
	t.Cleanup(srv.Close)
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Route: RouteGenerate, Retry: testPolicy(1)})

	res, err := client.Generate(context.Background(), GenerateRequest{Prompt: "p", System: "s"})
	Expect(err).To(BeNil())
	Expect(res.Response).To(Equal("generated"))
	Expect(got["prompt"]).To(Equal("p"))
	Expect(got["system"]).To(Equal("s"))
}

func TestGenerateStreamConcatenatesChunks(t *testing.T) {
	RegisterTestingT(t)

	srv, _ := sequenceServer(t, reply{http.StatusOK, `{"message":{"role":"assistant","content":"Hello"},"done":false}
{"message":{"role":"assistant","content":", "},"done":false}

{"message":{"role":"assistant","content":"world"},"done":false}
{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}
`})
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(1)})

	res, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi", Stream: true})
	Expect(err).To(BeNil())
	Expect(res.Response).To(Equal("Hello, world"))
}

func TestGenerateTruncatedStreamIsProtocolError(t *testing.T) {
	RegisterTestingT(t)

	srv, calls := sequenceServer(t, reply{http.StatusOK, `{"message":{"role":"assistant","content":"Hel"},"done":false}` + "\n"})
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(2)})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi", Stream: true})
	Expect(IsKind(err, ErrorProtocol)).To(BeTrue())
	Expect(calls.Load()).To(Equal(int32(2)))
}

func TestGenerateStreamErrorChunkIsUnavailable(t *testing.T) {
	RegisterTestingT(t)

	srv, _ := sequenceServer(t, reply{http.StatusOK, `{"message":{"role":"assistant","content":"Hel"},"done":false}
{"error":"model runner has unexpectedly stopped"}
`})
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(2)})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi", Stream: true})
	Expect(IsKind(err, ErrorUnavailable)).To(BeTrue())
	Expect(err.Error()).To(ContainSubstring("unexpectedly stopped"))
}

func TestGenerateStripsThinking(t *testing.T) {
	RegisterTestingT(t)

	srv, _ := sequenceServer(t, reply{http.StatusOK, chatBody("<think>Let me think about this...</think>\n\nThis is the actual response.")})
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Model: "deepseek-r1:14b", StripThinking: true, Retry: testPolicy(1)})

	res, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	Expect(err).To(BeNil())
	Expect(res.Response).To(Equal("This is the actual response."))
}

func TestGenerateReturnsTextVerbatim(t *testing.T) {
	RegisterTestingT(t)

	text := "  <think>kept</think>\n  spaced out  \n"
	srv, _ := sequenceServer(t, reply{http.StatusOK, chatBody(text)})
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Model: "deepseek-r1:14b", Retry: testPolicy(1)})

	res, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	Expect(err).To(BeNil())
	Expect(res.Response).To(Equal(text))
}

func TestGenerateUnserializableOptions(t *testing.T) {
	RegisterTestingT(t)

	srv, calls := sequenceServer(t, reply{http.StatusOK, chatBody("never")})
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(3)})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi", Options: map[string]any{"bad": make(chan int)}})
	Expect(IsKind(err, ErrorClient)).To(BeTrue())
	Expect(calls.Load()).To(Equal(int32(0)))
}

func TestGenerateConcurrentCalls(t *testing.T) {
	RegisterTestingT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = io.WriteString(w, chatBody("echo "+req.Messages[0].Content))
	}))
	t.Cleanup(srv.Close)
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(2)})

	results := make([]string, 16)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := client.Generate(context.Background(), GenerateRequest{Prompt: fmt.Sprintf("p%d", i)})
			if err == nil {
				results[i] = res.Response
			}
		}()
	}
	wg.Wait()
	for i, r := range results {
		Expect(r).To(Equal(fmt.Sprintf("echo p%d", i)))
	}
}

func TestNewOllamaValidatesConfig(t *testing.T) {
	RegisterTestingT(t)

	_, err := NewOllama(testLogger(), OllamaConfig{Url: "localhost:11434", Retry: testPolicy(1)})
	Expect(err).To(HaveOccurred())

	_, err = NewOllama(testLogger(), OllamaConfig{Retry: RetryPolicy{}})
	Expect(err).To(MatchError(ContainSubstring("max attempts")))

	_, err = NewOllama(testLogger(), OllamaConfig{Route: "/api/embed", Retry: testPolicy(1)})
	Expect(err).To(MatchError(ContainSubstring("unsupported ollama route")))

	client, err := NewOllama(nil, OllamaConfig{Retry: testPolicy(1)})
	Expect(err).To(BeNil())
	Expect(client).NotTo(BeNil())
}

func TestPing(t *testing.T) {
	RegisterTestingT(t)

	srv, _ := sequenceServer(t, reply{http.StatusOK, chatBody("Hello!")}, reply{http.StatusOK, chatBody("   ")})
	client, _ := newTestClient(t, OllamaConfig{Url: srv.URL, Retry: testPolicy(1)})

	Expect(Ping(context.Background(), client, "")).To(Succeed())
	Expect(Ping(context.Background(), client, "")).To(MatchError(ContainSubstring("empty reply")))
}
