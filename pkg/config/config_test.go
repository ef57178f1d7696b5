package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/integrail/persona-lab/pkg/llm"
)

func TestFromEnvDefaults(t *testing.T) {
	RegisterTestingT(t)

	t.Chdir(t.TempDir())
	for _, key := range []string{EnvURL, EnvModel, EnvAPIKey, EnvProvider, EnvTimeout, EnvMaxAttempts} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	Expect(cfg.Provider).To(Equal(ProviderOllama))
	Expect(cfg.Url).To(Equal("http://localhost:11434"))
	Expect(cfg.Model).To(Equal("deepseek-r1:14b"))
	Expect(cfg.Timeout).To(Equal(240 * time.Second))
	Expect(cfg.Retry).To(Equal(llm.DefaultRetryPolicy()))
	Expect(cfg.StripThinking).To(BeTrue())
	Expect(cfg.Validate()).To(Succeed())
}

func TestFromEnvOverrides(t *testing.T) {
	RegisterTestingT(t)

	dir := t.TempDir()
	t.Chdir(dir)
	Expect(os.WriteFile(filepath.Join(dir, ".env"), []byte("OLLAMA_MODEL=llama3.1:8b\nPERSONA_LAB_TIMEOUT=30s\n"), 0o644)).To(Succeed())
	t.Setenv(EnvURL, "http://gpu-box:11434")
	t.Setenv(EnvMaxAttempts, "3")
	t.Setenv(EnvModel, "")
	t.Setenv(EnvTimeout, "")
	os.Unsetenv(EnvModel)
	os.Unsetenv(EnvTimeout)

	cfg := FromEnv()
	Expect(cfg.Url).To(Equal("http://gpu-box:11434"))
	Expect(cfg.Model).To(Equal("llama3.1:8b"))
	Expect(cfg.Timeout).To(Equal(30 * time.Second))
	Expect(cfg.Retry.MaxAttempts).To(Equal(3))
}

func TestValidate(t *testing.T) {
	RegisterTestingT(t)

	valid := Config{
		Provider:    ProviderOllama,
		Url:         "http://localhost:11434",
		Model:       "llama3.1:8b",
		Timeout:     time.Second,
		Retry:       llm.DefaultRetryPolicy(),
		Concurrency: 1,
		Options:     []string{"temperature=0.1"},
	}
	Expect(valid.Validate()).To(Succeed())

	testCases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "provider", mutate: func(c *Config) { c.Provider = "bedrock" }, want: "unknown provider"},
		{name: "url", mutate: func(c *Config) { c.Url = "localhost:11434" }, want: "invalid url"},
		{name: "model", mutate: func(c *Config) { c.Model = "" }, want: "model is required"},
		{name: "timeout", mutate: func(c *Config) { c.Timeout = 0 }, want: "timeout"},
		{name: "concurrency", mutate: func(c *Config) { c.Concurrency = 0 }, want: "concurrency"},
		{name: "retry", mutate: func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }, want: "multiplier"},
		{name: "options", mutate: func(c *Config) { c.Options = []string{"temperature"} }, want: "invalid generation option"},
	}
	for _, tc := range testCases {
		c := valid
		tc.mutate(&c)
		err := c.Validate()
		Expect(err).To(HaveOccurred(), tc.name)
		Expect(err.Error()).To(ContainSubstring(tc.want), tc.name)
	}
}

func TestNewClient(t *testing.T) {
	RegisterTestingT(t)

	cfg := Config{
		Provider:    ProviderOpenAI,
		Url:         "http://localhost:11434/v1",
		Model:       "llama3.1:8b",
		Timeout:     time.Second,
		Retry:       llm.DefaultRetryPolicy(),
		Concurrency: 1,
	}
	client, err := cfg.NewClient(nil)
	Expect(err).To(BeNil())
	Expect(client).NotTo(BeNil())

	cfg.Provider = ProviderOllama
	client, err = cfg.NewClient(nil)
	Expect(err).To(BeNil())
	Expect(client).NotTo(BeNil())

	cfg.Timeout = -time.Second
	_, err = cfg.NewClient(nil)
	Expect(err).To(HaveOccurred())
}

func TestParseBrief(t *testing.T) {
	RegisterTestingT(t)

	brief, err := ParseBrief([]byte(`
personas:
  - "  Busy ICU nurse, 34, works night shifts "
  - ""
  - Student on a tight budget
product: A reusable smart water bottle that tracks hydration
`))
	Expect(err).To(BeNil())
	Expect(brief.Personas).To(Equal([]string{"Busy ICU nurse, 34, works night shifts", "Student on a tight budget"}))
	Expect(brief.Product).To(Equal("A reusable smart water bottle that tracks hydration"))

	_, err = ParseBrief([]byte(`{"personas": ["nurse"], "product": "bottle"}`))
	Expect(err).To(MatchError(ContainSubstring("at least 20 characters")))

	_, err = ParseBrief([]byte("personas: [unterminated"))
	Expect(err).To(MatchError(ContainSubstring("failed to parse brief")))

	_, err = LoadBrief(filepath.Join(t.TempDir(), "missing.yaml"))
	Expect(err).To(MatchError(ContainSubstring("failed to read brief")))
}
