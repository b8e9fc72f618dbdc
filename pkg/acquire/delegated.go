package acquire

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	errs "socialdash/pkg/errors"
)

// DefaultFetchFunction is the edge function that downloads and stores an image
const DefaultFetchFunction = "download-instagram-image"

// Delegate asks a remote component to fetch imageURL and store it under
// storagePath, returning the stored public URL
type Delegate interface {
	Fetch(ctx context.Context, imageURL, storagePath string) (string, error)
}

// EdgeFunction calls a Supabase edge function to fetch images from outside
// the local network
type EdgeFunction struct {
	baseURL    string
	serviceKey string
	name       string
	httpClient *http.Client
}

// NewEdgeFunction creates a Delegate for the named function. An empty name
// uses DefaultFetchFunction.
func NewEdgeFunction(supabaseURL, serviceKey, name string, httpClient *http.Client) *EdgeFunction {
	if name == "" {
		name = DefaultFetchFunction
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &EdgeFunction{
		baseURL:    strings.TrimRight(supabaseURL, "/"),
		serviceKey: serviceKey,
		name:       name,
		httpClient: httpClient,
	}
}

type edgeFunctionResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Error   string `json:"error"`
}

// Fetch invokes the edge function
func (f *EdgeFunction) Fetch(ctx context.Context, imageURL, storagePath string) (string, error) {
	if f.baseURL == "" || f.serviceKey == "" {
		return "", errs.Configuration("Supabase URL and service key are required for delegated fetch")
	}

	payload, err := json.Marshal(map[string]string{
		"imageUrl":    imageURL,
		"storagePath": storagePath,
	})
	if err != nil {
		return "", errs.Wrap(err, errs.ErrorTypeParsing, "failed to encode function input")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/functions/v1/"+f.name, bytes.NewReader(payload))
	if err != nil {
		return "", errs.Wrap(err, errs.ErrorTypeUnknown, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+f.serviceKey)
	req.Header.Set("apikey", f.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", errs.Wrap(err, errs.ErrorTypeNetwork, "edge function request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errs.Wrap(err, errs.ErrorTypeNetwork, "failed to read edge function response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errs.New(errs.FromStatusCode(resp.StatusCode), resp.StatusCode, "edge function %s failed", f.name)
	}

	var out edgeFunctionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errs.Wrap(err, errs.ErrorTypeParsing, "invalid edge function response")
	}
	if !out.Success || out.URL == "" {
		msg := out.Error
		if msg == "" {
			msg = "no url returned"
		}
		return "", errs.New(errs.ErrorTypeUpstream, 0, "edge function %s: %s", f.name, msg)
	}
	return out.URL, nil
}
