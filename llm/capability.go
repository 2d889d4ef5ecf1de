package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pinkfuwa/llumen-go/chat/entity"
)

// capabilityCacheTTL bounds how long an OpenRouter-reported capability is
// trusted before GetCapability re-fetches it.
const capabilityCacheTTL = 10 * time.Minute

// wireModelsResponse is the subset of OpenRouter's GET /models payload this
// client reads.
type wireModelsResponse struct {
	Data []wireModelEntry `json:"data"`
}

type wireModelEntry struct {
	ID                   string   `json:"id"`
	Architecture         *struct {
		InputModalities  []string `json:"input_modalities"`
		OutputModalities []string `json:"output_modalities"`
	} `json:"architecture"`
	SupportedParameters []string `json:"supported_parameters"`
}

type capabilityCacheEntry struct {
	cap       entity.Capability
	fetchedAt time.Time
}

// capabilityCache is an in-memory TTL cache keyed by model id, bypassed
// entirely in compatibility mode (non-OpenRouter base URL).
type capabilityCache struct {
	mu      sync.Mutex
	entries map[string]capabilityCacheEntry
}

func newCapabilityCache() *capabilityCache {
	return &capabilityCache{entries: make(map[string]capabilityCacheEntry)}
}

func (c *capabilityCache) get(model string) (entity.Capability, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[model]
	if !ok || time.Since(e.fetchedAt) > capabilityCacheTTL {
		return entity.Capability{}, false
	}
	return e.cap, true
}

func (c *capabilityCache) put(model string, cap entity.Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[model] = capabilityCacheEntry{cap: cap, fetchedAt: time.Now()}
}

// fetchReportedCapability calls GET {baseURL}/models and extracts the entry
// for model. Only used when openRouter is true.
func (c *Client) fetchReportedCapability(ctx context.Context, model string) (entity.Capability, error) {
	url := c.baseURL + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return entity.Capability{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return entity.Capability{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return entity.Capability{}, &ErrUpstream{Provider: c.name, Status: resp.StatusCode, Message: "fetching model capability"}
	}

	var parsed wireModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return entity.Capability{}, fmt.Errorf("decode models response: %w", err)
	}

	for _, m := range parsed.Data {
		if m.ID == model {
			return reportedToCapability(m), nil
		}
	}
	return entity.Capability{}, &ErrUpstream{Provider: c.name, Message: fmt.Sprintf("model %q not found in provider catalog", model)}
}

func reportedToCapability(m wireModelEntry) entity.Capability {
	var cap entity.Capability
	if m.Architecture != nil {
		for _, mod := range m.Architecture.InputModalities {
			switch mod {
			case "image":
				cap.ImageInput = true
			case "audio":
				cap.Audio = true
			case "text":
				cap.TextOutput = true
			}
		}
		for _, mod := range m.Architecture.OutputModalities {
			if mod == "image" {
				cap.ImageOutput = true
			}
		}
	}
	for _, p := range m.SupportedParameters {
		switch p {
		case "tools", "tool_choice":
			cap.Tool = true
		case "response_format", "structured_outputs":
			cap.StructuredOutput = true
		case "reasoning", "include_reasoning":
			cap.Reasoning = true
		}
	}
	return cap
}

// ModelOverride is a local TOML-configured capability override layered on
// top of whatever the provider reports. Any
// non-zero-value field wins over the reported value; OCR is only ever set
// locally since no upstream API reports it.
type ModelOverride struct {
	TextOutput       *bool
	ImageOutput      *bool
	ImageInput       *bool
	Audio            *bool
	OCR              *entity.OcrEngine
	Tool             *bool
	StructuredOutput *bool
	Reasoning        *bool
}

func mergeCapability(reported entity.Capability, override ModelOverride) entity.Capability {
	out := reported
	if override.TextOutput != nil {
		out.TextOutput = *override.TextOutput
	}
	if override.ImageOutput != nil {
		out.ImageOutput = *override.ImageOutput
	}
	if override.ImageInput != nil {
		out.ImageInput = *override.ImageInput
	}
	if override.Audio != nil {
		out.Audio = *override.Audio
	}
	if override.OCR != nil {
		out.OCR = *override.OCR
	}
	if override.Tool != nil {
		out.Tool = *override.Tool
	}
	if override.StructuredOutput != nil {
		out.StructuredOutput = *override.StructuredOutput
	}
	if override.Reasoning != nil {
		out.Reasoning = *override.Reasoning
	}
	return out
}
