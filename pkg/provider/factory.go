package provider

import (
	"fmt"
	"sync"
)

// Factory builds one backend per distinct (provider, key, model)
// combination and reuses it across cycles. An explicit keyed cache
// rather than a lazily memoized singleton, so a key change in the
// configuration produces a fresh client on the next cycle.
type Factory struct {
	mu       sync.Mutex
	backends map[string]Backend
}

func NewFactory() *Factory {
	return &Factory{backends: make(map[string]Backend)}
}

func (f *Factory) Backend(settings Settings) (Backend, error) {
	key := settings.Name + "|" + settings.APIKey + "|" + settings.Model

	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.backends[key]; ok {
		return b, nil
	}

	var b Backend
	switch settings.Name {
	case "openai":
		b = NewOpenAI(settings.APIKey, settings.Model)
	case "deepseek":
		b = NewDeepSeek(settings.APIKey, settings.Model)
	case "gemini":
		b = NewGemini(settings.APIKey, settings.Model)
	default:
		return nil, fmt.Errorf("unknown decision provider %q", settings.Name)
	}

	f.backends[key] = b
	return b, nil
}
