package agency

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/integrail/persona-lab/pkg/llm"
	"github.com/integrail/persona-lab/pkg/llm/mocks"
)

func TestReact(t *testing.T) {
	RegisterTestingT(t)

	client := mocks.NewClient(t)
	client.On("Generate", mock.Anything, llm.GenerateRequest{
		Prompt:  "I am: Busy nurse\n\nAbout this product/brand: " + testProduct + "\n\nMy reaction:",
		System:  systemPersona,
		Model:   "llama3.1:8b",
		Options: map[string]any{"temperature": 0.7},
	}).Return(reply("Looks handy."), nil).Once()
	client.On("Generate", mock.Anything, mock.Anything).Return(reply("   "), nil).Once()

	r := NewReactor(testLogger(), client, WithModel("llama3.1:8b"), WithGenerationOptions(map[string]any{"temperature": 0.7}))
	res, err := r.React(context.Background(), " Busy nurse ", testProduct)
	Expect(err).To(BeNil())
	Expect(res.Response).To(Equal("Looks handy."))

	_, err = r.React(context.Background(), "Student", testProduct)
	Expect(err).To(MatchError(ContainSubstring("empty reaction")))
}

func TestReactAllKeepsOrderAndLimitsConcurrency(t *testing.T) {
	RegisterTestingT(t)

	var inFlight, peak atomic.Int32
	client := mocks.NewClient(t)
	client.On("Generate", mock.Anything, mock.Anything).Return(
		func(_ context.Context, r llm.GenerateRequest) (*llm.GenerateResponse, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			if strings.Contains(r.Prompt, "persona 3") {
				return nil, &llm.Failure{Kind: llm.ErrorClient, Message: "request rejected", Attempts: 1, StatusCode: 404}
			}
			return reply("reaction of " + strings.SplitN(strings.TrimPrefix(r.Prompt, "I am: "), "\n", 2)[0]), nil
		})

	personas := make([]string, 6)
	for i := range personas {
		personas[i] = fmt.Sprintf("persona %d", i+1)
	}
	reporter := &recordingReporter{}
	r := NewReactor(testLogger(), client, WithConcurrency(3))

	res := r.ReactAll(context.Background(), personas, testProduct, reporter)
	Expect(res).To(HaveLen(6))
	for i, reaction := range res {
		Expect(reaction.Persona).To(Equal(personas[i]))
		if i == 2 {
			Expect(llm.IsKind(reaction.Err, llm.ErrorClient)).To(BeTrue())
			Expect(reaction.Text()).To(HavePrefix("Reaction unavailable: client_error"))
			continue
		}
		Expect(reaction.Err).To(BeNil())
		Expect(reaction.Text()).To(Equal("reaction of " + personas[i]))
	}
	Expect(peak.Load()).To(BeNumerically("<=", 3))
	Expect(reporter.msgs).To(HaveLen(6))
	Expect(reporter.msgs).To(ContainElement(HaveSuffix("(6/6)")))
}
