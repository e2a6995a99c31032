package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the Anthropic enricher.
type Options struct {
	APIKey            string
	Model             string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int

	// ClientOptions are appended after the API key; tests point the client
	// at an httptest server with option.WithBaseURL.
	ClientOptions []option.RequestOption
}

// Anthropic is an Enricher backed by the Anthropic Messages API. Each call is
// a single attempt: the breaker and limiter protect the service, retries are
// left to the user.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewAnthropic builds the enricher. It fails without an API key.
func NewAnthropic(opts Options, logger *zap.Logger) (*Anthropic, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrUnavailable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-5"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 20
	}

	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}, opts.ClientOptions...)

	a := &Anthropic{
		client:    anthropic.NewClient(clientOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		timeout:   opts.Timeout,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), opts.RequestsPerMinute),
		logger:    logger,
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "enrichment",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// A caller that gave up is not a service failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return a, nil
}

// FetchPassageContent asks the model for the passage text and parses its
// JSON reply.
func (a *Anthropic) FetchPassageContent(ctx context.Context, citation string) (*Content, error) {
	citation = strings.TrimSpace(citation)
	if citation == "" {
		return nil, errors.New("citation is required")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("enrichment rate limit: %w", err)
	}

	start := time.Now()
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.call(ctx, buildPrompt(citation))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("enrichment service unavailable: %w", err)
		}
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	content, err := ParseContent(out.(string))
	if err != nil {
		return nil, err
	}

	a.logger.Debug("enrichment call",
		zap.String("citation", citation),
		zap.Duration("duration", time.Since(start)),
		zap.Strings("missing", content.Missing()))
	return content, nil
}

func (a *Anthropic) call(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

func buildPrompt(citation string) string {
	return fmt.Sprintf(`You are a scholar of rabbinic literature. Provide the text of the Talmudic passage %q.

Respond with a single JSON object and nothing else:
{
  "primary_text": "the passage in the original Hebrew/Aramaic",
  "secondary_translation": "a modern Hebrew rendering, or empty if none",
  "english_translation": "an English translation",
  "keywords": ["three to six short topical keywords"]
}

If you do not know the passage, return empty strings rather than inventing text.`, citation)
}
