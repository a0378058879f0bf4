package pexels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vnmchuo/content-bot/internal/imagesearch"
	"github.com/vnmchuo/content-bot/internal/provider"
)

// Pexels expects the API key verbatim in the Authorization header, not as a
// Bearer token.
type PexelsProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type pexelsResponse struct {
	Photos []pexelsPhoto `json:"photos"`
}

type pexelsPhoto struct {
	Src pexelsSrc `json:"src"`
}

type pexelsSrc struct {
	Large string `json:"large"`
}

func New(apiKey string, timeout time.Duration) imagesearch.Provider {
	return &PexelsProvider{
		apiKey:  apiKey,
		baseURL: "https://api.pexels.com/v1",
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *PexelsProvider) Search(ctx context.Context, keyword string, maxResults int) ([]string, error) {
	if !p.Configured() {
		return nil, provider.ErrNotConfigured
	}

	params := url.Values{
		"query":       {keyword},
		"per_page":    {strconv.Itoa(maxResults)},
		"orientation": {"landscape"},
	}
	reqURL := fmt.Sprintf("%s/search?%s", p.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &provider.TransientError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromStatus(p.Name(), resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	var pexelsResp pexelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&pexelsResp); err != nil {
		return nil, &provider.TransientError{Provider: p.Name(), Err: err}
	}

	urls := make([]string, 0, len(pexelsResp.Photos))
	for _, photo := range pexelsResp.Photos {
		if photo.Src.Large != "" {
			urls = append(urls, photo.Src.Large)
		}
		if len(urls) >= maxResults {
			break
		}
	}
	return urls, nil
}

func (p *PexelsProvider) Name() string {
	return "pexels"
}

func (p *PexelsProvider) Configured() bool {
	return p.apiKey != ""
}
