// Package promptregistry implements the Prompt Registry (spec §4.3):
// get_active_prompt_with_meta's contract of a TTL-cached HTTP lookup that
// degrades to a caller-supplied default on any failure, never raising.
package promptregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/smilemakc/vyasa/internal/domain"
)

// Config is the registry's dial-out configuration. Enabled and BaseURL
// mirror the spec's "feature flag off OR no registry URL configured" early
// exit; TTL and Timeout are the spec's literal 300s/2s defaults.
type Config struct {
	BaseURL string
	Enabled bool
	TTL     time.Duration
	Timeout time.Duration
}

// DefaultConfig mirrors the spec's literal defaults; callers only need to
// set BaseURL and Enabled.
func DefaultConfig() Config {
	return Config{
		TTL:     300 * time.Second,
		Timeout: 2 * time.Second,
	}
}

type cacheKey struct {
	name string
	tag  string
}

type cacheEntry struct {
	template  string
	hash      string
	fetchedAt time.Time
}

// Registry is the concrete pipeline.PromptRegistry. The cache is a
// puzpuzpuz/xsync MapOf rather than a mutex-guarded map, since multiple jobs
// running concurrently (spec §4.1's semaphore-bounded parallelism) each
// fetch prompts independently and the cache is read far more than written.
type Registry struct {
	cfg    Config
	client *http.Client
	cache  *xsync.MapOf[cacheKey, cacheEntry]
}

// New constructs a Registry.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:    cfg,
		client: &http.Client{},
		cache:  xsync.NewMapOf[cacheKey, cacheEntry](),
	}
}

// Fetch implements pipeline.PromptRegistry. It never returns a non-nil
// error: every failure mode (disabled, network error, timeout, non-200,
// empty body, bad JSON) degrades to defaultPrompt with source=default, per
// spec §4.3 step 4 ("never raise from this function").
func (r *Registry) Fetch(ctx context.Context, name, tag, defaultPrompt string) (string, domain.PromptUse, error) {
	if !r.cfg.Enabled || r.cfg.BaseURL == "" {
		return defaultPrompt, r.defaultUse(name, tag, defaultPrompt), nil
	}

	key := cacheKey{name: name, tag: tag}
	if entry, ok := r.cache.Load(key); ok && time.Since(entry.fetchedAt) < r.effectiveTTL() {
		return entry.template, domain.PromptUse{
			Name:        name,
			Tag:         tag,
			Source:      domain.PromptSourceRegistry,
			Hash:        entry.hash,
			RetrievedAt: time.Now().UTC(),
			CacheHit:    true,
		}, nil
	}

	template, ok := r.fetchFromRegistry(ctx, name, tag)
	if !ok {
		return defaultPrompt, r.defaultUse(name, tag, defaultPrompt), nil
	}

	hash := hashTemplate(template)
	r.cache.Store(key, cacheEntry{template: template, hash: hash, fetchedAt: time.Now()})
	return template, domain.PromptUse{
		Name:        name,
		Tag:         tag,
		Source:      domain.PromptSourceRegistry,
		Hash:        hash,
		RetrievedAt: time.Now().UTC(),
		CacheHit:    false,
	}, nil
}

func (r *Registry) effectiveTTL() time.Duration {
	if r.cfg.TTL > 0 {
		return r.cfg.TTL
	}
	return 300 * time.Second
}

func (r *Registry) defaultUse(name, tag, defaultPrompt string) domain.PromptUse {
	return domain.PromptUse{
		Name:        name,
		Tag:         tag,
		Source:      domain.PromptSourceDefault,
		Hash:        hashTemplate(defaultPrompt),
		RetrievedAt: time.Now().UTC(),
		CacheHit:    false,
	}
}

func hashTemplate(template string) string {
	sum := sha256.Sum256([]byte(template))
	return hex.EncodeToString(sum[:])
}

// promptResponse accepts any of the three field names spec §4.3 step 3 names
// ("template", "content", "text"); unused fields are simply empty.
type promptResponse struct {
	Template string `json:"template"`
	Content  string `json:"content"`
	Text     string `json:"text"`
}

func (r *Registry) fetchFromRegistry(ctx context.Context, name, tag string) (string, bool) {
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q := url.Values{}
	q.Set("name", name)
	if tag != "" {
		q.Set("tag", tag)
	}
	endpoint := strings.TrimRight(r.cfg.BaseURL, "/") + "/prompts/active?" + q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false
	}

	var parsed promptResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false
	}

	template := firstNonEmpty(parsed.Template, parsed.Content, parsed.Text)
	if template == "" {
		return "", false
	}
	return template, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ClearCache implements clear_prompt_cache's optional (name, tag) scoping:
// an empty name clears everything, a name with an empty tag clears every
// cached tag for that name, and both set clears exactly one entry.
func (r *Registry) ClearCache(name, tag string) {
	if name == "" {
		r.cache.Clear()
		return
	}
	if tag != "" {
		r.cache.Delete(cacheKey{name: name, tag: tag})
		return
	}
	r.cache.Range(func(key cacheKey, _ cacheEntry) bool {
		if key.name == name {
			r.cache.Delete(key)
		}
		return true
	})
}
