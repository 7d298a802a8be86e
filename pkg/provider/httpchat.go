package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// HTTPChatAdapter speaks the OpenAI-compatible chat completions wire
// format. Any provider exposing /chat/completions with the usual
// request and usage shapes works through it.
type HTTPChatAdapter struct {
	name    string
	baseURL string
	apiKey  string
	pricing map[string]config.ModelPricing
	client  *http.Client
}

// NewHTTPChatAdapter creates an adapter for one OpenAI-compatible
// endpoint. callTimeout bounds a single request.
func NewHTTPChatAdapter(name string, cfg config.ProviderConfig) *HTTPChatAdapter {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPChatAdapter{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		pricing: cfg.Models,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPChatAdapter) Name() string { return a.name }

func (a *HTTPChatAdapter) Models() []string {
	models := make([]string, 0, len(a.pricing))
	for model := range a.pricing {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (a *HTTPChatAdapter) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	resp, err := a.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := a.classifyStatus(resp); err != nil {
		return nil, err
	}

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errdefs.Wrap(errdefs.KindProviderTransient, "malformed provider response", err)
	}
	if len(body.Choices) == 0 {
		return nil, errdefs.New(errdefs.KindProviderTransient, "provider returned no choices")
	}

	return &CallResult{
		Content:      body.Choices[0].Message.Content,
		InputTokens:  body.Usage.PromptTokens,
		OutputTokens: body.Usage.CompletionTokens,
	}, nil
}

func (a *HTTPChatAdapter) Stream(ctx context.Context, req CallRequest, fn StreamFunc) (*CallResult, error) {
	resp, err := a.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := a.classifyStatus(resp); err != nil {
		return nil, err
	}

	var full strings.Builder
	result := &CallResult{}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage.PromptTokens > 0 {
			result.InputTokens = chunk.Usage.PromptTokens
			result.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if fn != nil {
			if err := fn(delta); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, a.classifyTransport(err)
	}

	result.Content = full.String()
	if result.InputTokens == 0 {
		// Providers that omit usage on streams get a rough estimate.
		for _, msg := range req.Messages {
			result.InputTokens += len(msg.Content) / 4
		}
		result.OutputTokens = full.Len() / 4
	}
	return result, nil
}

func (a *HTTPChatAdapter) Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := a.pricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

func (a *HTTPChatAdapter) HealthProbe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	a.auth(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return a.classifyTransport(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return errdefs.Newf(errdefs.KindProviderTransient, "health probe got %d", resp.StatusCode)
	}
	return nil
}

func (a *HTTPChatAdapter) post(ctx context.Context, req CallRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternal, "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternal, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.auth(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, a.classifyTransport(err)
	}
	return resp, nil
}

func (a *HTTPChatAdapter) auth(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

// classifyStatus maps non-2xx responses onto the error taxonomy. The
// body is drained so the transport connection can be reused.
func (a *HTTPChatAdapter) classifyStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := fmt.Sprintf("provider %s returned %d", a.name, resp.StatusCode)

	var body chatResponse
	if json.Unmarshal(snippet, &body) == nil && body.Error != nil && body.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, body.Error.Message)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errdefs.Wrap(errdefs.KindProviderTransient, msg, ErrRateLimited)
	case resp.StatusCode == http.StatusRequestTimeout:
		return errdefs.New(errdefs.KindTimeout, msg)
	case resp.StatusCode >= 500:
		return errdefs.New(errdefs.KindProviderTransient, msg)
	default:
		// 4xx: auth, quota, malformed request. Retrying cannot help.
		return errdefs.New(errdefs.KindProviderPermanent, msg)
	}
}

func (a *HTTPChatAdapter) classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return errdefs.Wrap(errdefs.KindCancelled, "provider call cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return errdefs.Wrap(errdefs.KindTimeout, "provider call timed out", err)
	}
	return errdefs.Wrap(errdefs.KindProviderTransient, "provider unreachable", err)
}
