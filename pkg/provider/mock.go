package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
)

// MockAdapter is a deterministic in-process adapter used for the default
// configuration and for tests. Responses can be scripted; without a
// script it answers with a stable JSON document derived from the
// request digest.
type MockAdapter struct {
	name    string
	pricing map[string]config.ModelPricing

	mu     sync.Mutex
	script []scriptEntry
	calls  []CallRequest
}

type scriptEntry struct {
	content string
	err     error
}

// NewMockAdapter creates a mock provider with the given pricing table.
func NewMockAdapter(name string, pricing map[string]config.ModelPricing) *MockAdapter {
	return &MockAdapter{name: name, pricing: pricing}
}

// Enqueue schedules the next scripted response. Entries are consumed in
// FIFO order; err takes precedence over content.
func (m *MockAdapter) Enqueue(content string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptEntry{content: content, err: err})
}

// Calls returns a copy of every request seen so far.
func (m *MockAdapter) Calls() []CallRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockAdapter) Name() string { return m.name }

func (m *MockAdapter) Models() []string {
	models := make([]string, 0, len(m.pricing))
	for model := range m.pricing {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

func (m *MockAdapter) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	var entry *scriptEntry
	if len(m.script) > 0 {
		e := m.script[0]
		m.script = m.script[1:]
		entry = &e
	}
	m.mu.Unlock()

	if entry != nil {
		if entry.err != nil {
			return nil, entry.err
		}
		return m.result(req, entry.content), nil
	}

	return m.result(req, m.defaultContent(req)), nil
}

func (m *MockAdapter) Stream(ctx context.Context, req CallRequest, fn StreamFunc) (*CallResult, error) {
	res, err := m.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		if err := fn(res.Content); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (m *MockAdapter) Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := m.pricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

func (m *MockAdapter) HealthProbe(ctx context.Context) error {
	return ctx.Err()
}

func (m *MockAdapter) result(req CallRequest, content string) *CallResult {
	in := 0
	for _, msg := range req.Messages {
		in += len(msg.Content) / 4
	}
	return &CallResult{
		Content:      content,
		InputTokens:  in + len(req.Messages),
		OutputTokens: len(content)/4 + 1,
	}
}

// defaultContent derives a stable response from the request so repeated
// identical calls are cache-equivalent.
func (m *MockAdapter) defaultContent(req CallRequest) string {
	h := sha256.New()
	fmt.Fprint(h, req.Model)
	for _, msg := range req.Messages {
		fmt.Fprint(h, msg.Role, msg.Content)
	}
	digest := hex.EncodeToString(h.Sum(nil))[:12]
	return fmt.Sprintf(`{"mock":true,"model":%q,"digest":%q}`, req.Model, digest)
}
