package pixabay

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

// Pixabay takes the API key as a query parameter rather than a header.
type PixabayProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type pixabayResponse struct {
	Hits []pixabayHit `json:"hits"`
}

type pixabayHit struct {
	LargeImageURL string `json:"largeImageURL"`
}

func New(apiKey string, timeout time.Duration) imagesearch.Provider {
	return &PixabayProvider{
		apiKey:  apiKey,
		baseURL: "https://pixabay.com/api/",
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *PixabayProvider) Search(ctx context.Context, keyword string, maxResults int) ([]string, error) {
	if !p.Configured() {
		return nil, provider.ErrNotConfigured
	}

	params := url.Values{
		"key":         {p.apiKey},
		"q":           {keyword},
		"per_page":    {strconv.Itoa(maxResults)},
		"image_type":  {"photo"},
		"orientation": {"horizontal"},
	}
	reqURL := fmt.Sprintf("%s?%s", p.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &provider.TransientError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromStatus(p.Name(), resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	var pixabayResp pixabayResponse
	if err := json.NewDecoder(resp.Body).Decode(&pixabayResp); err != nil {
		return nil, &provider.TransientError{Provider: p.Name(), Err: err}
	}

	urls := make([]string, 0, len(pixabayResp.Hits))
	for _, hit := range pixabayResp.Hits {
		if hit.LargeImageURL != "" {
			urls = append(urls, hit.LargeImageURL)
		}
		if len(urls) >= maxResults {
			break
		}
	}
	return urls, nil
}

func (p *PixabayProvider) Name() string {
	return "pixabay"
}

func (p *PixabayProvider) Configured() bool {
	return p.apiKey != ""
}
