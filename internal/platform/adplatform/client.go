// Package adplatform talks to the external ad-serving platform: campaign,
// ad set, ad and creative provisioning, delivery metrics, and pausing.
package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adlift-labs/adlift-go/internal/domain"
	"github.com/adlift-labs/adlift-go/internal/platform/env"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("ADLIFT_ADPLATFORM_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL: env.String("ADLIFT_ADPLATFORM_URL", ""),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("ADLIFT_ADPLATFORM_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("ADLIFT_ADPLATFORM_TIMEOUT must be positive")
	}
	return nil
}

// AssetSigner issues a download URL for a stored creative asset. The
// platform fetches the asset over this URL during creative upload.
type AssetSigner interface {
	SignedAssetURL(ctx context.Context, objectKey string) (string, error)
}

type Client struct {
	baseURL string
	http    *http.Client
	signer  AssetSigner
}

func NewClient(cfg Config, signer AssetSigner) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, errors.New("asset signer is required")
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		signer:  signer,
	}, nil
}

// accountPath yields the account segment of platform URLs. Legacy tenants
// address the platform's tenant-default account.
func accountPath(actx domain.AccountContext) string {
	if actx.LegacyMode || strings.TrimSpace(actx.PlatformAccountID) == "" {
		return "me"
	}
	return actx.PlatformAccountID
}

type CampaignParams struct {
	Name      string `json:"name"`
	Objective string `json:"objective,omitempty"`
	Status    string `json:"status"`
}

func (c *Client) CreateCampaign(ctx context.Context, actx domain.AccountContext, params CampaignParams) (string, error) {
	if params.Status == "" {
		params.Status = "ACTIVE"
	}
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v2/accounts/%s/campaigns", accountPath(actx))
	if err := c.doJSON(ctx, actx, http.MethodPost, path, params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

type AdSetParams struct {
	Name                string `json:"name"`
	CampaignID          string `json:"campaign_id"`
	LifetimeBudgetCents int64  `json:"lifetime_budget_cents"`
	ImpressionCap       int64  `json:"impression_cap,omitempty"`
	Status              string `json:"status"`
}

func (c *Client) CreateAdSet(ctx context.Context, actx domain.AccountContext, params AdSetParams) (string, error) {
	if params.Status == "" {
		params.Status = "ACTIVE"
	}
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v2/accounts/%s/adsets", accountPath(actx))
	if err := c.doJSON(ctx, actx, http.MethodPost, path, params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// SharedAdSet returns the account's pre-provisioned shared ad set. Tenants
// in use_existing mode attach experiment ads to this ad set instead of
// creating their own.
func (c *Client) SharedAdSet(ctx context.Context, actx domain.AccountContext) (string, error) {
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/v2/accounts/%s/adsets?shared=true&limit=1", accountPath(actx))
	if err := c.doJSON(ctx, actx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", &Error{StatusCode: http.StatusNotFound, Code: "no_shared_adset", Message: "account has no shared ad set"}
	}
	return out.Data[0].ID, nil
}

func (c *Client) UploadCreative(ctx context.Context, actx domain.AccountContext, creative domain.Creative) (string, error) {
	assetURL, err := c.signer.SignedAssetURL(ctx, creative.AssetObjectKey)
	if err != nil {
		return "", fmt.Errorf("sign asset for creative %s: %w", creative.ID, err)
	}
	body := map[string]any{
		"name":      creative.Title,
		"asset_url": assetURL,
	}
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v2/accounts/%s/adcreatives", accountPath(actx))
	if err := c.doJSON(ctx, actx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

type AdParams struct {
	Name       string `json:"name"`
	AdSetID    string `json:"adset_id"`
	CreativeID string `json:"creative_id"`
	Status     string `json:"status"`
}

func (c *Client) CreateAd(ctx context.Context, actx domain.AccountContext, params AdParams) (string, error) {
	if params.Status == "" {
		params.Status = "ACTIVE"
	}
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v2/accounts/%s/ads", accountPath(actx))
	if err := c.doJSON(ctx, actx, http.MethodPost, path, params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) Insights(ctx context.Context, actx domain.AccountContext, adID string) (domain.Metrics, error) {
	adID = strings.TrimSpace(adID)
	if adID == "" {
		return domain.Metrics{}, errors.New("ad id is required")
	}
	var out struct {
		Impressions int64 `json:"impressions"`
		SpendCents  int64 `json:"spend_cents"`
		Results     int64 `json:"results"`
	}
	path := fmt.Sprintf("/v2/ads/%s/insights", adID)
	if err := c.doJSON(ctx, actx, http.MethodGet, path, nil, &out); err != nil {
		return domain.Metrics{}, err
	}
	return domain.Metrics{
		Impressions: out.Impressions,
		SpendCents:  out.SpendCents,
		Results:     out.Results,
	}, nil
}

// Pause pauses one platform object (campaign, ad set or ad) by id.
func (c *Client) Pause(ctx context.Context, actx domain.AccountContext, objectID string) error {
	objectID = strings.TrimSpace(objectID)
	if objectID == "" {
		return errors.New("object id is required")
	}
	body := map[string]any{"status": "PAUSED"}
	path := fmt.Sprintf("/v2/objects/%s", objectID)
	return c.doJSON(ctx, actx, http.MethodPost, path, body, nil)
}

// DeactivateSharedAdSetWithAds deactivates the specific ads this engine
// created plus the shared ad set as a unit. The ad ids passed here must come
// from stored experiment records; the shared ad set may hold sibling ads
// owned by other systems, so this never enumerates ads server-side.
func (c *Client) DeactivateSharedAdSetWithAds(ctx context.Context, actx domain.AccountContext, adsetID string, adIDs []string) error {
	adsetID = strings.TrimSpace(adsetID)
	if adsetID == "" {
		return errors.New("adset id is required")
	}
	if len(adIDs) == 0 {
		return errors.New("ad ids are required")
	}
	body := map[string]any{
		"adset_id": adsetID,
		"ad_ids":   adIDs,
	}
	path := fmt.Sprintf("/v2/accounts/%s/adsets/%s:deactivate", accountPath(actx), adsetID)
	return c.doJSON(ctx, actx, http.MethodPost, path, body, nil)
}

func (c *Client) doJSON(ctx context.Context, actx domain.AccountContext, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+actx.CredentialsHandle)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parsePlatformError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parsePlatformError(status int, raw []byte) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	platformErr := &Error{
		StatusCode: status,
		Raw:        json.RawMessage(bytes.TrimSpace(raw)),
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		platformErr.Code = payload.Error.Code
		platformErr.Message = payload.Error.Message
	}
	return platformErr
}
