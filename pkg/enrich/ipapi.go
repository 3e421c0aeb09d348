package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// IPAPIGeolocator resolves locations via the ipapi.co JSON endpoint. The
// per-lookup deadline comes from the caller's context.
type IPAPIGeolocator struct {
	client  *http.Client
	baseURL string
}

func NewIPAPIGeolocator(baseURL string) *IPAPIGeolocator {
	if baseURL == "" {
		baseURL = "https://ipapi.co"
	}
	return &IPAPIGeolocator{
		client:  &http.Client{},
		baseURL: baseURL,
	}
}

type ipapiResponse struct {
	CountryName string `json:"country_name"`
	City        string `json:"city"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

func (g *IPAPIGeolocator) Locate(ctx context.Context, ip string) (string, string, error) {
	url := fmt.Sprintf("%s/%s/json/", g.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("ipapi returned status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", err
	}
	if body.Error {
		return "", "", fmt.Errorf("ipapi error: %s", body.Reason)
	}

	return body.CountryName, body.City, nil
}
