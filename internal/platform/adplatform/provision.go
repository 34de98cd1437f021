package adplatform

import (
	"context"
	"fmt"

	"github.com/adlift-labs/adlift-go/internal/budget"
	"github.com/adlift-labs/adlift-go/internal/domain"
)

// SingleTestResult holds the platform object ids backing one single-creative
// experiment.
type SingleTestResult struct {
	CampaignID string
	AdSetID    string
	AdID       string
}

type ABTestItem struct {
	CreativeID string
	AdSetID    string
	AdID       string
}

// ABTestResult holds the platform object ids backing one A/B experiment:
// one campaign, one ad set and one ad per variant.
type ABTestResult struct {
	CampaignID string
	Items      []ABTestItem
}

// ProvisionSingleTest builds the campaign, ad set, creative upload and ad for
// a single-creative experiment. Errors carry the creative id so callers can
// report which variant failed.
func (c *Client) ProvisionSingleTest(ctx context.Context, actx domain.AccountContext, creative domain.Creative, objective string, split budget.Split) (SingleTestResult, error) {
	campaignID, err := c.CreateCampaign(ctx, actx, CampaignParams{
		Name:      fmt.Sprintf("test-%s", creative.ID),
		Objective: objective,
	})
	if err != nil {
		return SingleTestResult{}, withCreative(err, creative.ID)
	}

	adsetID, adID, err := c.provisionVariant(ctx, actx, campaignID, creative, split)
	if err != nil {
		return SingleTestResult{}, err
	}
	return SingleTestResult{CampaignID: campaignID, AdSetID: adsetID, AdID: adID}, nil
}

// ProvisionABTest builds one campaign plus a per-variant ad set, creative and
// ad for each creative. Provisioning aborts on the first failure; the caller
// persists nothing for a failed A/B start.
func (c *Client) ProvisionABTest(ctx context.Context, actx domain.AccountContext, creatives []domain.Creative, objective string, split budget.Split) (ABTestResult, error) {
	if len(creatives) == 0 {
		return ABTestResult{}, fmt.Errorf("no creatives to provision")
	}
	campaignID, err := c.CreateCampaign(ctx, actx, CampaignParams{
		Name:      fmt.Sprintf("abtest-%s", creatives[0].ID),
		Objective: objective,
	})
	if err != nil {
		return ABTestResult{}, err
	}

	result := ABTestResult{CampaignID: campaignID}
	for _, creative := range creatives {
		adsetID, adID, err := c.provisionVariant(ctx, actx, campaignID, creative, split)
		if err != nil {
			return ABTestResult{}, err
		}
		result.Items = append(result.Items, ABTestItem{
			CreativeID: creative.ID,
			AdSetID:    adsetID,
			AdID:       adID,
		})
	}
	return result, nil
}

func (c *Client) provisionVariant(ctx context.Context, actx domain.AccountContext, campaignID string, creative domain.Creative, split budget.Split) (adsetID, adID string, err error) {
	if actx.ObjectMode == domain.ObjectModeUseExisting {
		adsetID, err = c.SharedAdSet(ctx, actx)
	} else {
		adsetID, err = c.CreateAdSet(ctx, actx, AdSetParams{
			Name:                fmt.Sprintf("adset-%s", creative.ID),
			CampaignID:          campaignID,
			LifetimeBudgetCents: split.PerVariantBudgetCents,
			ImpressionCap:       split.PerVariantImpressions,
		})
	}
	if err != nil {
		return "", "", withCreative(err, creative.ID)
	}

	platformCreativeID, err := c.UploadCreative(ctx, actx, creative)
	if err != nil {
		return "", "", withCreative(err, creative.ID)
	}

	adID, err = c.CreateAd(ctx, actx, AdParams{
		Name:       fmt.Sprintf("ad-%s", creative.ID),
		AdSetID:    adsetID,
		CreativeID: platformCreativeID,
	})
	if err != nil {
		return "", "", withCreative(err, creative.ID)
	}
	return adsetID, adID, nil
}
