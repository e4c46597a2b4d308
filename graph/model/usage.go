package model

import (
	"fmt"
	"sync"
	"time"
)

// Pricing is the cost of a model in USD per one million tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultPricing covers the models the adapters default to. Unknown models
// are still counted, at zero cost.
var defaultPricing = map[string]Pricing{
	"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":           {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":      {InputPer1M: 0.40, OutputPer1M: 1.60},
	"claude-sonnet-4-0": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-opus-4-0":   {InputPer1M: 15.00, OutputPer1M: 75.00},
	"gemini-2.5-flash":  {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-2.5-pro":    {InputPer1M: 1.25, OutputPer1M: 10.00},
}

// Call is one recorded model invocation.
type Call struct {
	ThreadID     string    `json:"thread_id"`
	Node         string    `json:"node,omitempty"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// UsageSummary aggregates the calls of one thread.
type UsageSummary struct {
	Calls        int                `json:"calls"`
	InputTokens  int64              `json:"input_tokens"`
	OutputTokens int64              `json:"output_tokens"`
	CostUSD      float64            `json:"cost_usd"`
	ByModel      map[string]float64 `json:"by_model,omitempty"`
}

// String returns a one-line summary.
func (s UsageSummary) String() string {
	return fmt.Sprintf("%d calls, %d in / %d out tokens, $%.4f", s.Calls, s.InputTokens, s.OutputTokens, s.CostUSD)
}

// UsageTracker attributes token usage and cost to threads and nodes.
//
// One tracker is shared by every run of an application, so nested runs are
// recorded under their own thread ids.
//
// Example:
//
//	tracker := model.NewUsageTracker()
//	out, err := m.Chat(ctx, msgs)
//	tracker.Record(rc.ThreadID, rc.Node, out)
//	fmt.Println(tracker.Summary(rc.ThreadID))
//
// Safe for concurrent use.
type UsageTracker struct {
	mu      sync.RWMutex
	pricing map[string]Pricing
	calls   map[string][]Call
	now     func() time.Time
}

// NewUsageTracker creates a tracker with the default pricing table.
func NewUsageTracker() *UsageTracker {
	pricing := make(map[string]Pricing, len(defaultPricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	return &UsageTracker{
		pricing: pricing,
		calls:   make(map[string][]Call),
		now:     time.Now,
	}
}

// SetPricing overrides the price of a model.
func (t *UsageTracker) SetPricing(model string, p Pricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[model] = p
}

// Record attributes one response to a thread and node. A nil tracker
// records nothing.
func (t *UsageTracker) Record(threadID, node string, out ChatOut) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.pricing[out.Model]
	cost := float64(out.Usage.InputTokens)/1_000_000*p.InputPer1M +
		float64(out.Usage.OutputTokens)/1_000_000*p.OutputPer1M

	t.calls[threadID] = append(t.calls[threadID], Call{
		ThreadID:     threadID,
		Node:         node,
		Model:        out.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		CostUSD:      cost,
		Timestamp:    t.now(),
	})
}

// Calls returns a copy of the calls recorded for a thread.
func (t *UsageTracker) Calls(threadID string) []Call {
	t.mu.RLock()
	defer t.mu.RUnlock()

	calls := make([]Call, len(t.calls[threadID]))
	copy(calls, t.calls[threadID])
	return calls
}

// Summary aggregates the calls of the given threads. Pass a parent thread
// together with its nested thread ids to get the cost of a whole workflow.
func (t *UsageTracker) Summary(threadIDs ...string) UsageSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sum := UsageSummary{ByModel: make(map[string]float64)}
	for _, id := range threadIDs {
		for _, c := range t.calls[id] {
			sum.Calls++
			sum.InputTokens += c.InputTokens
			sum.OutputTokens += c.OutputTokens
			sum.CostUSD += c.CostUSD
			sum.ByModel[c.Model] += c.CostUSD
		}
	}
	return sum
}

// Reset forgets the calls of a thread.
func (t *UsageTracker) Reset(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.calls, threadID)
}
