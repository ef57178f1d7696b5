package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

const pingPrompt = "Hello, this is a connection test."

// Ping sends a short prompt and expects a non-empty reply.
func Ping(ctx context.Context, client Client, model string) error {
	res, err := client.Generate(ctx, GenerateRequest{Prompt: pingPrompt, Model: model})
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Response) == "" {
		return errors.Errorf("model %q returned an empty reply to the connection test", res.Model)
	}
	return nil
}
