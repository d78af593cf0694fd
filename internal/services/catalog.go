package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"google.golang.org/api/cloudbilling/v1"
)

// SkuPrice is one normalized Cloud Billing SKU rate. UnitPrice is in the
// billing account currency per UsageUnit.
type SkuPrice struct {
	ServiceDisplayName string  `json:"serviceDisplayName"`
	ServiceName        string  `json:"serviceName"`
	SkuID              string  `json:"skuId"`
	Description        string  `json:"skuDescription"`
	Region             string  `json:"region"`
	UsageUnit          string  `json:"usageUnit"`
	Currency           string  `json:"currency"`
	UnitPrice          float64 `json:"unitPrice"`
}

// CatalogClient reads GCP pricing from the Cloud Billing catalog.
type CatalogClient struct {
	svc *cloudbilling.APIService
}

// NewCatalogClient builds a catalog client from application default
// credentials.
func NewCatalogClient(ctx context.Context) (*CatalogClient, error) {
	svc, err := cloudbilling.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud billing client: %w", err)
	}
	return &CatalogClient{svc: svc}, nil
}

// ComputeSkuPrices lists Compute Engine SKUs filtered by region and a machine
// family regex, with unit prices normalized from Money {units, nanos}.
func (c *CatalogClient) ComputeSkuPrices(ctx context.Context, region, familyRegex string) ([]SkuPrice, error) {
	familyRx, err := regexp.Compile("(?i)" + familyRegex)
	if err != nil {
		return nil, fmt.Errorf("invalid family regex %q: %w", familyRegex, err)
	}

	var services []*cloudbilling.Service
	err = c.svc.Services.List().Pages(ctx, func(resp *cloudbilling.ListServicesResponse) error {
		services = append(services, resp.Services...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list billing services: %w", err)
	}

	compute, err := pickService(services, "Compute Engine")
	if err != nil {
		return nil, err
	}

	var out []SkuPrice
	err = c.svc.Services.Skus.List(compute.Name).Pages(ctx, func(resp *cloudbilling.ListSkusResponse) error {
		for _, sku := range resp.Skus {
			if !familyRx.MatchString(sku.Description) {
				continue
			}
			if !skuHasRegion(sku, region) {
				continue
			}
			unit, price, currency, ok := extractRate(sku)
			if !ok {
				continue
			}
			out = append(out, SkuPrice{
				ServiceDisplayName: compute.DisplayName,
				ServiceName:        compute.Name,
				SkuID:              skuID(sku),
				Description:        sku.Description,
				Region:             region,
				UsageUnit:          unit,
				Currency:           currency,
				UnitPrice:          price,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list SKUs for %s: %w", compute.Name, err)
	}

	sortPrices(out)
	return out, nil
}

// pickService matches services by display name, case-insensitive, preferring
// an exact match over substring matches.
func pickService(services []*cloudbilling.Service, displayName string) (*cloudbilling.Service, error) {
	want := strings.ToLower(displayName)

	var matches []*cloudbilling.Service
	for _, s := range services {
		if strings.Contains(strings.ToLower(s.DisplayName), want) {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no billing service matched %q", displayName)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		ei := strings.ToLower(matches[i].DisplayName) == want
		ej := strings.ToLower(matches[j].DisplayName) == want
		if ei != ej {
			return ei
		}
		return matches[i].DisplayName < matches[j].DisplayName
	})
	return matches[0], nil
}

// skuHasRegion checks the SKU's service regions, falling back to a
// description substring match when the catalog omits them.
func skuHasRegion(sku *cloudbilling.Sku, region string) bool {
	if len(sku.ServiceRegions) > 0 {
		for _, r := range sku.ServiceRegions {
			if r == region {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(sku.Description), strings.ToLower(region))
}

// extractRate pulls the first tiered rate from the SKU's first pricing info.
func extractRate(sku *cloudbilling.Sku) (usageUnit string, price float64, currency string, ok bool) {
	if len(sku.PricingInfo) == 0 {
		return "", 0, "", false
	}
	expr := sku.PricingInfo[0].PricingExpression
	if expr == nil || len(expr.TieredRates) == 0 {
		return "", 0, "", false
	}
	rate := expr.TieredRates[0]
	if rate.UnitPrice == nil {
		return "", 0, "", false
	}
	currency = rate.UnitPrice.CurrencyCode
	if currency == "" {
		// Money is reported in the billing account currency, commonly USD.
		currency = "USD"
	}
	return expr.UsageUnit, normalizeMoney(rate.UnitPrice.Units, rate.UnitPrice.Nanos), currency, true
}

// normalizeMoney converts Money {units, nanos} to a single per-unit price.
func normalizeMoney(units int64, nanos int64) float64 {
	return float64(units) + float64(nanos)/1e9
}

// sortPrices orders prices for stable diffs between runs.
func sortPrices(prices []SkuPrice) {
	sort.Slice(prices, func(i, j int) bool {
		if prices[i].Description != prices[j].Description {
			return prices[i].Description < prices[j].Description
		}
		if prices[i].UsageUnit != prices[j].UsageUnit {
			return prices[i].UsageUnit < prices[j].UsageUnit
		}
		return prices[i].UnitPrice < prices[j].UnitPrice
	})
}

func skuID(sku *cloudbilling.Sku) string {
	if sku.SkuId != "" {
		return sku.SkuId
	}
	parts := strings.Split(sku.Name, "/")
	return parts[len(parts)-1]
}
