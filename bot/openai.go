package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var (
	// ErrAllKeysExhausted indicates every key in the pool failed for a
	// single request.
	ErrAllKeysExhausted = errors.New("all API keys exhausted")

	// ErrNoAPIKeys indicates the key pool is empty.
	ErrNoAPIKeys = errors.New("no API keys configured")

	// ErrEmptyCompletion indicates the API returned a response with no
	// choices or no message content.
	ErrEmptyCompletion = errors.New("no content in completion response")
)

// KeyPool is an ordered pool of API credentials with a rotation cursor.
//
// The cursor indicates the next key to try first, and always points to a
// valid index modulo the pool size. Advancing is guarded so that
// concurrent failures from different requests can't skip past keys that
// haven't been tried: an advance only takes effect if the cursor still
// points at the key that failed.
type KeyPool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewKeyPool creates a KeyPool from the given ordered keys.
func NewKeyPool(keys []string) *KeyPool {
	pool := make([]string, len(keys))
	copy(pool, keys)
	return &KeyPool{keys: pool}
}

// Len returns the number of keys in the pool.
func (p *KeyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Current returns the key at the rotation cursor, and its index.
func (p *KeyPool) Current() (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", 0
	}
	return p.keys[p.cursor], p.cursor
}

// Key returns the key at the given index, wrapping modulo the pool size.
func (p *KeyPool) Key(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	return p.keys[i%len(p.keys)]
}

// Advance moves the cursor to the key after `from`, wrapping. The move
// only happens if the cursor still points at `from` - if another request
// already advanced it, the cursor is left alone.
func (p *KeyPool) Advance(from int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return 0
	}
	if p.cursor == from%len(p.keys) {
		p.cursor = (from + 1) % len(p.keys)
	}
	return p.cursor
}

// SetCursor points the cursor at the given index, wrapping. Called after
// a successful request so the next request starts on a known-good key.
func (p *KeyPool) SetCursor(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return
	}
	p.cursor = i % len(p.keys)
}

// Cursor returns the current cursor index.
func (p *KeyPool) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// OpenAIClient defines the interface used to create chat completions.
// It abstracts the single API call this bot makes, to enable
// testing/mocking without a live endpoint.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)
}

// OpenAI manages completion requests against an OpenAI-compatible API.
//
// It owns the API key pool and rotation cursor, constructs a client for
// whichever key is being attempted, rate limits outbound requests, and
// classifies failures as key-related (rotate and retry) or fatal.
type OpenAI struct {
	config         *OpenAIConfig
	pool           *KeyPool
	logger         *slog.Logger
	requestLimiter *rate.Limiter

	// newClient returns a completion client authenticated with the given
	// API key, against the configured base URL. Replaced in tests.
	newClient func(apiKey string) OpenAIClient

	mu *sync.RWMutex // primarily just protects requestLimiter
}

func newOpenAI(config *OpenAIConfig, httpClient *http.Client) *OpenAI {
	o := &OpenAI{
		config: config,
		pool:   NewKeyPool(config.Keys()),
		mu:     &sync.RWMutex{},
	}
	o.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "openai")

	limit := rate.Inf
	if config.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(config.MaxRequestsPerSecond)
	}
	o.requestLimiter = rate.NewLimiter(limit, 1)

	o.newClient = func(apiKey string) OpenAIClient {
		clientCfg := openai.DefaultConfig(apiKey)
		clientCfg.BaseURL = config.BaseURL
		if httpClient != nil {
			clientCfg.HTTPClient = httpClient
		}
		return openai.NewClientWithConfig(clientCfg)
	}

	return o
}

// CreateCompletion sends the given messages to the completion API,
// rotating through the key pool on key-related failures.
//
// Delivery starts at the current rotation cursor's key. On a failure
// classified as key-related (authentication, rate limit, quota) or a
// transport failure, the cursor advances to the next key (wrapping) and
// the request is retried - at most once per key in the pool. Fatal
// errors (malformed requests) and context cancellation are returned
// immediately without rotation.
//
// On the first success the cursor is left pointing at the winning key
// and the assistant's message content is returned. If every key fails,
// the returned error wraps ErrAllKeysExhausted along with the last
// attempt's error.
func (o *OpenAI) CreateCompletion(
	ctx context.Context,
	messages []openai.ChatCompletionMessage,
) (string, error) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = o.logger
	}

	attempts := o.pool.Len()
	if attempts == 0 {
		return "", ErrNoAPIKeys
	}

	request := openai.ChatCompletionRequest{
		Model:    o.config.Model,
		Messages: messages,
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := o.waitOnRequestLimiter(ctx); err != nil {
			return "", err
		}

		key, idx := o.pool.Current()
		logger.DebugContext(
			ctx,
			"attempting completion",
			"key", keyFragment(key),
			"attempt", attempt+1,
			"pool_size", attempts,
		)

		response, err := o.createChatCompletion(ctx, key, request)
		if err == nil {
			o.pool.SetCursor(idx)
			return completionContent(response)
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !keyRotationError(err) {
			logger.ErrorContext(ctx, "completion request failed", tint.Err(err))
			return "", err
		}

		lastErr = err
		next := o.pool.Advance(idx)
		logger.WarnContext(
			ctx,
			"completion attempt failed, rotating key",
			tint.Err(err),
			"key", keyFragment(key),
			"next_cursor", next,
		)
	}

	return "", fmt.Errorf("%w (last error: %w)", ErrAllKeysExhausted, lastErr)
}

func (o *OpenAI) createChatCompletion(
	ctx context.Context,
	apiKey string,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}
	return o.newClient(apiKey).CreateChatCompletion(ctx, request)
}

// waitOnRequestLimiter waits for the request limiter to allow the next
// request, returning any error from the limiter itself
func (o *OpenAI) waitOnRequestLimiter(ctx context.Context) error {
	o.mu.RLock()
	requestLimiter := o.requestLimiter
	o.mu.RUnlock()
	return requestLimiter.Wait(ctx)
}

// completionContent extracts the assistant message content from a
// completion response.
func completionContent(response openai.ChatCompletionResponse) (string, error) {
	if len(response.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := response.Choices[0].Message.Content
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// keyRotationError reports whether the given completion error should
// trigger rotation to the next key in the pool.
//
// Authentication, payment/quota and rate-limit responses are
// key-related: another key may well succeed. Server errors and
// transport-level failures get one try per key. Malformed-request
// responses are fatal - no key will make them succeed.
func keyRotationError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return rotateOnStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return rotateOnStatus(reqErr.HTTPStatusCode)
	}

	// transport-level failure: retryable once per key
	return true
}

func rotateOnStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusUnauthorized,
		http.StatusPaymentRequired,
		http.StatusForbidden,
		http.StatusTooManyRequests:
		return true
	}
	return statusCode >= http.StatusInternalServerError
}
