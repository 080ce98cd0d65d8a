package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zgpcy/azure-billing-collector/internal/clock"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/pipeline"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
	"github.com/zgpcy/azure-billing-collector/internal/retry"
)

type fakeCredential struct{ err error }

func (f fakeCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: "test-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func testSecret() config.SecretData {
	return config.SecretData{
		TenantID:         "tenant",
		ClientID:         "client",
		ClientSecret:     "secret",
		BillingAccountID: "ba-1",
	}
}

func newTestSession(t *testing.T, mux *http.ServeMux) *Session {
	t.Helper()
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	s, err := newSession(testSecret(), fakeCredential{}, Options{
		Endpoint:  srv.URL,
		PricesURL: srv.URL + "/prices",
		Transport: srv.Client(),
		Retry:     testRetry(),
	})
	require.NoError(t, err)
	return s
}

type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) { t.c <- time.Time{} }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func testRetry() *retry.Controller {
	return &retry.Controller{
		MaxRetries: 2,
		MinBackoff: time.Millisecond,
		Timer:      &instantTimer{c: make(chan time.Time, 1)},
		Logger:     logger.Discard(),
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestCheckSecret(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.SecretData)
		wantKey string
	}{
		{"complete", func(*config.SecretData) {}, ""},
		{"subscription instead of billing account", func(s *config.SecretData) {
			s.BillingAccountID = ""
			s.SubscriptionID = "sub-1"
		}, ""},
		{"no scope id", func(s *config.SecretData) { s.BillingAccountID = "" }, "secret_data.billing_account_id or secret_data.subscription_id"},
		{"no tenant", func(s *config.SecretData) { s.TenantID = "" }, "secret_data.tenant_id"},
		{"no client", func(s *config.SecretData) { s.ClientID = "" }, "secret_data.client_id"},
		{"no client secret", func(s *config.SecretData) { s.ClientSecret = "" }, "secret_data.client_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret := testSecret()
			tt.mutate(&secret)

			err := CheckSecret(secret)
			if tt.wantKey == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, provider.ErrRequiredParameter)
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestNewSession_MissingSecret(t *testing.T) {
	_, err := NewSession(config.SecretData{BillingAccountID: "ba-1"}, Options{})
	assert.ErrorIs(t, err, provider.ErrRequiredParameter)
}

func TestVerify(t *testing.T) {
	s, err := newSession(testSecret(), fakeCredential{}, Options{})
	require.NoError(t, err)
	assert.NoError(t, s.Verify(context.Background()))

	s, err = newSession(testSecret(), fakeCredential{err: errors.New("AADSTS7000215")}, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Verify(context.Background()), provider.ErrInvalidToken)
}

func TestModuleVersion(t *testing.T) {
	assert.Regexp(t, `^v\d+\.\d+\.\d+(-[a-zA-Z0-9_.-]+)?$`, moduleVersion())
}

func TestQueryPage(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /subscriptions/S1/providers/Microsoft.CostManagement/query", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "azure-billing-collector")

		if r.URL.Query().Get("$skiptoken") == "" {
			assert.Equal(t, CostManagementAPIVersion, r.URL.Query().Get("api-version"))
		} else {
			w.Header().Set("x-ms-ratelimit-microsoft.costmanagement-qpu-retry-after", "12")
			writeJSON(t, w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]string{"code": "429", "message": "Too many requests"},
			})
			return
		}

		var def armcostmanagement.QueryDefinition
		require.NoError(t, json.NewDecoder(r.Body).Decode(&def))
		assert.Equal(t, armcostmanagement.ExportTypeActualCost, *def.Type)

		writeJSON(t, w, http.StatusOK, map[string]any{
			"properties": map[string]any{
				"nextLink": "https://" + r.Host + r.URL.Path + "?api-version=" + CostManagementAPIVersion + "&$skiptoken=abc",
				"columns":  []map[string]string{{"name": "Cost", "type": "Number"}},
				"rows":     [][]any{{1.5}},
			},
		})
	})
	s := newTestSession(t, mux)

	def := armcostmanagement.QueryDefinition{
		Type:      to.Ptr(armcostmanagement.ExportTypeActualCost),
		Timeframe: to.Ptr(armcostmanagement.TimeframeTypeCustom),
	}
	resp, err := s.QueryPage(context.Background(), "/subscriptions/S1", "", def)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Properties struct {
			NextLink string `json:"nextLink"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	require.NotEmpty(t, body.Properties.NextLink)

	resp, err = s.QueryPage(context.Background(), "/subscriptions/S1", body.Properties.NextLink, def)
	require.NoError(t, err, "status codes are left to the caller")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "12", resp.Header.Get("x-ms-ratelimit-microsoft.costmanagement-qpu-retry-after"))
	assert.Equal(t, int32(2), calls.Load())
}

const reportPath = "/providers/Microsoft.Billing/billingAccounts/ba-1/providers/Microsoft.CostManagement/generateCostDetailsReport"

func TestStartBulkExport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+reportPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, CostManagementAPIVersion, r.URL.Query().Get("api-version"))
		var body costDetailsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, config.CostMetricAmortized, body.Metric)
		assert.Equal(t, "2024-01-01", body.TimePeriod.Start)
		assert.Equal(t, "2024-01-31", body.TimePeriod.End)

		w.Header().Set("Location", "https://"+r.Host+"/operations/report-1")
		w.WriteHeader(http.StatusAccepted)
	})
	s := newTestSession(t, mux)

	resp, err := s.StartBulkExport(context.Background(), "/providers/Microsoft.Billing/billingAccounts/ba-1", pipeline.ExportParams{
		Metric: config.CostMetricAmortized,
		Start:  time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/operations/report-1")
}

func TestStartBulkExport_StatusesLeftToCaller(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"no data", http.StatusNoContent},
		{"scope not found", http.StatusNotFound},
		{"bad request", http.StatusBadRequest},
		{"throttled", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("POST /subscriptions/S1/providers/Microsoft.CostManagement/generateCostDetailsReport", func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				if tt.status == http.StatusNoContent {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(t, w, tt.status, map[string]any{
					"error": map[string]string{"code": fmt.Sprint(tt.status), "message": "failed"},
				})
			})
			s := newTestSession(t, mux)

			resp, err := s.StartBulkExport(context.Background(), "/subscriptions/S1", pipeline.ExportParams{
				Metric: config.CostMetricActual,
				Start:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
				End:    time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, int32(1), calls.Load(), "one request per call")
		})
	}
}

func TestPollBulkExport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /operations/report-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]any{"status": "Completed"})
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	s, err := newSession(testSecret(), fakeCredential{}, Options{Endpoint: srv.URL, Transport: srv.Client()})
	require.NoError(t, err)

	resp, err := s.PollBulkExport(context.Background(), srv.URL+"/operations/report-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"Completed"}`, string(resp.Body))
}

func exportConfig() *config.Config {
	retries := 2
	return &config.Config{
		Options: config.Options{
			CostMetric:       config.CostMetricActual,
			CollectMode:      config.CollectModeExport,
			ScopeConcurrency: 1,
			PageSize:         1000,
			Currency:         "USD",
		},
		SecretData: testSecret(),
		Retry:      config.Retry{MaxRetries: &retries},
	}
}

func TestCollect_ThrottledReportIsRetried(t *testing.T) {
	tests := []struct {
		name      string
		pollFirst int
		wantPosts int32
		wantPolls int32
	}{
		{"report ready after throttling", http.StatusNoContent, 2, 1},
		{"poll throttled then ready", http.StatusTooManyRequests, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var posts, polls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("POST /subscriptions/S1/providers/Microsoft.CostManagement/generateCostDetailsReport", func(w http.ResponseWriter, r *http.Request) {
				if posts.Add(1) == 1 {
					w.Header().Set("Retry-After", "1")
					writeJSON(t, w, http.StatusTooManyRequests, map[string]any{
						"error": map[string]string{"code": "429", "message": "Too many requests"},
					})
					return
				}
				w.Header().Set("Location", "https://"+r.Host+"/operations/report-1")
				w.WriteHeader(http.StatusAccepted)
			})
			mux.HandleFunc("GET /operations/report-1", func(w http.ResponseWriter, r *http.Request) {
				if polls.Add(1) == 1 && tt.pollFirst != http.StatusNoContent {
					w.WriteHeader(tt.pollFirst)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			s := newTestSession(t, mux)

			p := pipeline.New(s, exportConfig(), testRetry(), logger.Discard(),
				pipeline.WithClock(clock.Fixed(time.Date(2024, time.January, 20, 0, 0, 0, 0, time.UTC))),
				pipeline.WithPollFrequency(time.Millisecond),
				pipeline.WithTempDir(t.TempDir()))
			task := config.TaskOptions{CollectScope: config.ScopeSubscription, SubscriptionID: "S1", Start: "2024-01"}

			err := p.Collect(context.Background(), task, func([]provider.CostRecord) error { return nil })

			require.NoError(t, err)
			assert.Equal(t, tt.wantPosts, posts.Load())
			assert.Equal(t, tt.wantPolls, polls.Load())
		})
	}
}

func TestFetchBlobChunk(t *testing.T) {
	data := []byte("date,cost\n2024-01-01,1\n")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /blob/1.csv", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "SAS links are sent without a bearer token")
		assert.Equal(t, "sas", r.URL.Query().Get("sig"))
		http.ServeContent(w, r, "1.csv", time.Time{}, bytes.NewReader(data))
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	s, err := newSession(testSecret(), fakeCredential{}, Options{Endpoint: srv.URL, Transport: srv.Client()})
	require.NoError(t, err)

	resp, err := s.FetchBlobChunk(context.Background(), srv.URL+"/blob/1.csv?sig=sas", 5, 4)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "cost", string(resp.Body))

	resp, err = s.FetchBlobChunk(context.Background(), srv.URL+"/blob/1.csv?sig=sas", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, resp.Body)
}

func TestBillingAccountAndCustomers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /providers/Microsoft.Billing/billingAccounts/ba-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, BillingAPIVersion, r.URL.Query().Get("api-version"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id":   "/providers/Microsoft.Billing/billingAccounts/ba-1",
			"name": "ba-1",
			"properties": map[string]string{
				"displayName":   "Contoso",
				"agreementType": config.AgreementMPA,
			},
		})
	})
	mux.HandleFunc("GET /providers/Microsoft.Billing/billingAccounts/ba-1/customers", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"value": []map[string]any{{"name": "c2", "properties": map[string]string{"displayName": "Fabrikam"}}},
			})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"value":    []map[string]any{{"name": "c1", "properties": map[string]string{"displayName": "Tailspin"}}},
			"nextLink": "https://" + r.Host + r.URL.Path + "?api-version=" + BillingAPIVersion + "&page=2",
		})
	})
	s := newTestSession(t, mux)

	account, err := s.BillingAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.BillingAccount{ID: "ba-1", DisplayName: "Contoso", AgreementType: config.AgreementMPA}, account)

	customers, err := s.ListCustomers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []provider.Account{
		{AccountID: "c1", Name: "Tailspin"},
		{AccountID: "c2", Name: "Fabrikam"},
	}, customers)
}

func TestBillingAccount_RequiresBillingAccountID(t *testing.T) {
	secret := testSecret()
	secret.BillingAccountID = ""
	secret.SubscriptionID = "sub-1"
	s, err := newSession(secret, fakeCredential{}, Options{})
	require.NoError(t, err)

	_, err = s.BillingAccount(context.Background())
	assert.ErrorIs(t, err, provider.ErrRequiredParameter)
	_, err = s.ListCustomers(context.Background())
	assert.ErrorIs(t, err, provider.ErrRequiredParameter)
}

func TestCreditBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /providers/Microsoft.Billing/billingAccounts/ba-1/billingPeriods/202401/providers/Microsoft.Consumption/balances", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ConsumptionAPIVersion, r.URL.Query().Get("api-version"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"properties": map[string]any{"currency": "USD", "utilized": 125.5},
		})
	})
	mux.HandleFunc("GET /providers/Microsoft.Billing/billingAccounts/ba-1/billingPeriods/202402/providers/Microsoft.Consumption/balances", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{
			"error": map[string]string{"code": "NotFound", "message": "no balance"},
		})
	})
	mux.HandleFunc("GET /providers/Microsoft.Billing/billingAccounts/ba-1/billingPeriods/202403/providers/Microsoft.Consumption/balances", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, map[string]any{
			"error": map[string]string{"code": "Forbidden", "message": "denied"},
		})
	})
	s := newTestSession(t, mux)

	balance, err := s.CreditBalance(context.Background(), "202401")
	require.NoError(t, err)
	assert.Equal(t, &pipeline.Balance{Utilized: 125.5, Currency: "USD"}, balance)

	balance, err = s.CreditBalance(context.Background(), "202402")
	require.NoError(t, err)
	assert.Nil(t, balance)

	_, err = s.CreditBalance(context.Background(), "202403")
	assert.ErrorIs(t, err, provider.ErrCollectorCallFailed)
}

func TestRetailPrices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "priceType eq 'Consumption' and meterId eq 'm-1'", r.URL.Query().Get("$filter"))
		assert.Equal(t, "'EUR'", r.URL.Query().Get("currencyCode"))
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"Items": []map[string]any{
				{"meterId": "m-1", "skuId": "DZH318Z0BQ4L/00TG", "retailPrice": 0.12, "currencyCode": "EUR", "type": "Consumption"},
			},
		})
	})
	s := newTestSession(t, mux)

	prices, err := s.RetailPrices(context.Background(), "m-1", "EUR")
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, 0.12, prices[0].RetailPrice)
	assert.Equal(t, "DZH318Z0BQ4L/00TG", prices[0].SkuID)
}

func TestRetailPrices_FollowsNextPageLink(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prices", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("$skip") == "100" {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"Items": []map[string]any{{"meterId": "m-1", "retailPrice": 0.10, "type": "Consumption"}},
			})
			return
		}
		next := "https://" + r.Host + r.URL.Path + "?" + r.URL.RawQuery + "&$skip=100"
		writeJSON(t, w, http.StatusOK, map[string]any{
			"Items":        []map[string]any{{"meterId": "m-1", "retailPrice": 0.12, "type": "Consumption"}},
			"NextPageLink": next,
		})
	})
	s := newTestSession(t, mux)

	prices, err := s.RetailPrices(context.Background(), "m-1", "")
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, 0.12, prices[0].RetailPrice)
	assert.Equal(t, 0.10, prices[1].RetailPrice)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBillingCalls_RetryThrottling(t *testing.T) {
	throttleOnce := func(calls *atomic.Int32, w http.ResponseWriter) bool {
		if calls.Add(1) > 1 {
			return false
		}
		w.Header().Set("Retry-After", "1")
		writeJSON(t, w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]string{"code": "429", "message": "Too many requests"},
		})
		return true
	}

	tests := []struct {
		name string
		path string
		body any
		call func(*Session) error
	}{
		{
			name: "billing account",
			path: "/providers/Microsoft.Billing/billingAccounts/ba-1",
			body: map[string]any{"name": "ba-1"},
			call: func(s *Session) error {
				_, err := s.BillingAccount(context.Background())
				return err
			},
		},
		{
			name: "customers",
			path: "/providers/Microsoft.Billing/billingAccounts/ba-1/customers",
			body: map[string]any{"value": []any{}},
			call: func(s *Session) error {
				_, err := s.ListCustomers(context.Background())
				return err
			},
		},
		{
			name: "credit balance",
			path: "/providers/Microsoft.Billing/billingAccounts/ba-1/billingPeriods/202401/providers/Microsoft.Consumption/balances",
			body: map[string]any{"properties": map[string]any{"currency": "USD", "utilized": 1}},
			call: func(s *Session) error {
				balance, err := s.CreditBalance(context.Background(), "202401")
				if err == nil && balance == nil {
					return errors.New("balance missing")
				}
				return err
			},
		},
		{
			name: "retail prices",
			path: "/prices",
			body: map[string]any{"Items": []any{}},
			call: func(s *Session) error {
				_, err := s.RetailPrices(context.Background(), "m-1", "USD")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("GET "+tt.path, func(w http.ResponseWriter, r *http.Request) {
				if throttleOnce(&calls, w) {
					return
				}
				writeJSON(t, w, http.StatusOK, tt.body)
			})
			s := newTestSession(t, mux)

			require.NoError(t, tt.call(s))
			assert.Equal(t, int32(2), calls.Load())
		})
	}
}

func TestBillingCalls_GiveUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /providers/Microsoft.Billing/billingAccounts/ba-1", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	s := newTestSession(t, mux)

	_, err := s.BillingAccount(context.Background())
	assert.ErrorIs(t, err, provider.ErrCollectionFailed)
	assert.Equal(t, int32(3), calls.Load())
}
