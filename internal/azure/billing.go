package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/zgpcy/azure-billing-collector/internal/pipeline"
	"github.com/zgpcy/azure-billing-collector/internal/pricecache"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
)

type billingAccountResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Properties struct {
		DisplayName   string `json:"displayName"`
		AgreementType string `json:"agreementType"`
	} `json:"properties"`
}

type customerListResponse struct {
	Value []struct {
		Name       string `json:"name"`
		Properties struct {
			DisplayName string `json:"displayName"`
		} `json:"properties"`
	} `json:"value"`
	NextLink string `json:"nextLink"`
}

type balanceResponse struct {
	Properties struct {
		Currency string  `json:"currency"`
		Utilized float64 `json:"utilized"`
	} `json:"properties"`
}

type retailPriceResponse struct {
	Items        []pricecache.RetailPrice `json:"Items"`
	NextPageLink string                   `json:"NextPageLink"`
}

func (s *Session) billingAccountPath() (string, error) {
	if s.secret.BillingAccountID == "" {
		return "", provider.RequiredParameter("secret_data.billing_account_id")
	}
	return "/providers/Microsoft.Billing/billingAccounts/" + s.secret.BillingAccountID, nil
}

// BillingAccount fetches the configured billing account
func (s *Session) BillingAccount(ctx context.Context) (pipeline.BillingAccount, error) {
	path, err := s.billingAccountPath()
	if err != nil {
		return pipeline.BillingAccount{}, err
	}

	var out billingAccountResponse
	if _, err := s.getJSON(ctx, s.client.Pipeline(), s.resourceURL(path, BillingAPIVersion), &out); err != nil {
		return pipeline.BillingAccount{}, fmt.Errorf("billing account %s: %w", s.secret.BillingAccountID, err)
	}
	return pipeline.BillingAccount{
		ID:            out.Name,
		DisplayName:   out.Properties.DisplayName,
		AgreementType: out.Properties.AgreementType,
	}, nil
}

// ListCustomers lists every customer of the billing account, following nextLink
func (s *Session) ListCustomers(ctx context.Context) ([]provider.Account, error) {
	path, err := s.billingAccountPath()
	if err != nil {
		return nil, err
	}

	var accounts []provider.Account
	next := s.resourceURL(path+"/customers", BillingAPIVersion)
	for next != "" {
		var page customerListResponse
		if _, err := s.getJSON(ctx, s.client.Pipeline(), next, &page); err != nil {
			return nil, fmt.Errorf("list customers: %w", err)
		}
		for _, c := range page.Value {
			accounts = append(accounts, provider.Account{AccountID: c.Name, Name: c.Properties.DisplayName})
		}
		if page.NextLink == next {
			break
		}
		next = page.NextLink
	}

	s.logger.Debug("Listed customers", "billing_account_id", s.secret.BillingAccountID, "count", len(accounts))
	return accounts, nil
}

// CreditBalance returns the EA balance of a billing period. A period
// without a balance yields nil.
func (s *Session) CreditBalance(ctx context.Context, billingPeriod string) (*pipeline.Balance, error) {
	path, err := s.billingAccountPath()
	if err != nil {
		return nil, err
	}
	path += "/billingPeriods/" + billingPeriod + "/providers/Microsoft.Consumption/balances"

	var out balanceResponse
	status, err := s.getJSON(ctx, s.client.Pipeline(), s.resourceURL(path, ConsumptionAPIVersion), &out,
		http.StatusNotFound, http.StatusNoContent)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		s.logger.Debug("No balance for billing period", "billing_period", billingPeriod, "status", status)
		return nil, nil
	}
	return &pipeline.Balance{Utilized: out.Properties.Utilized, Currency: out.Properties.Currency}, nil
}

// RetailPrices looks up consumption prices of a meter in the public price
// list, following NextPageLink
func (s *Session) RetailPrices(ctx context.Context, meterID, currency string) ([]pricecache.RetailPrice, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("priceType eq 'Consumption' and meterId eq '%s'",
		strings.ReplaceAll(meterID, "'", "''")))
	if currency != "" {
		query.Set("currencyCode", "'"+currency+"'")
	}

	var items []pricecache.RetailPrice
	next := s.pricesURL + "?" + query.Encode()
	for next != "" {
		var page retailPriceResponse
		if _, err := s.getJSON(ctx, s.public, next, &page); err != nil {
			return nil, fmt.Errorf("retail prices for meter %s: %w", meterID, err)
		}
		items = append(items, page.Items...)
		if page.NextPageLink == next {
			break
		}
		next = page.NextPageLink
	}
	return items, nil
}
