package unsplash

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

type UnsplashProvider struct {
	accessKey string
	baseURL   string
	client    *http.Client
}

type unsplashResponse struct {
	Results []unsplashPhoto `json:"results"`
}

type unsplashPhoto struct {
	URLs unsplashURLs `json:"urls"`
}

type unsplashURLs struct {
	Regular string `json:"regular"`
}

func New(accessKey string, timeout time.Duration) imagesearch.Provider {
	return &UnsplashProvider{
		accessKey: accessKey,
		baseURL:   "https://api.unsplash.com",
		client:    &http.Client{Timeout: timeout},
	}
}

func (p *UnsplashProvider) Search(ctx context.Context, keyword string, maxResults int) ([]string, error) {
	if !p.Configured() {
		return nil, provider.ErrNotConfigured
	}

	params := url.Values{
		"query":       {keyword},
		"per_page":    {strconv.Itoa(maxResults)},
		"orientation": {"landscape"},
	}
	reqURL := fmt.Sprintf("%s/search/photos?%s", p.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Client-ID %s", p.accessKey))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &provider.TransientError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromStatus(p.Name(), resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	var unsplashResp unsplashResponse
	if err := json.NewDecoder(resp.Body).Decode(&unsplashResp); err != nil {
		return nil, &provider.TransientError{Provider: p.Name(), Err: err}
	}

	urls := make([]string, 0, len(unsplashResp.Results))
	for _, photo := range unsplashResp.Results {
		if photo.URLs.Regular != "" {
			urls = append(urls, photo.URLs.Regular)
		}
		if len(urls) >= maxResults {
			break
		}
	}
	return urls, nil
}

func (p *UnsplashProvider) Name() string {
	return "unsplash"
}

func (p *UnsplashProvider) Configured() bool {
	return p.accessKey != ""
}
