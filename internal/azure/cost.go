package azure

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/fetch"
	"github.com/zgpcy/azure-billing-collector/internal/pipeline"
)

// QueryPage posts a cost query to the scope, or to nextLink when set.
// Non-2xx responses are returned as-is for the retry controller to classify.
func (s *Session) QueryPage(ctx context.Context, scope, nextLink string, def armcostmanagement.QueryDefinition) (*fetch.Response, error) {
	url := nextLink
	if url == "" {
		url = s.resourceURL(scope+"/providers/Microsoft.CostManagement/query", CostManagementAPIVersion)
	}

	req, err := runtime.NewRequest(ctx, http.MethodPost, url)
	if err != nil {
		return nil, err
	}
	req.Raw().Header.Set("Accept", "application/json")
	if err := runtime.MarshalAsJSON(req, def); err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	s.logger.Debug("Querying cost management", "scope", scope, "next_link", nextLink != "")
	return send(s.client.Pipeline(), req)
}

// costDetailsRequest is the body of a cost details report request
type costDetailsRequest struct {
	Metric     string            `json:"metric"`
	TimePeriod costDetailsPeriod `json:"timePeriod"`
}

type costDetailsPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// StartBulkExport requests a cost details report for the scope. The status
// is left to the caller: 202 carries the Location to poll.
func (s *Session) StartBulkExport(ctx context.Context, scope string, params pipeline.ExportParams) (*fetch.Response, error) {
	metric := params.Metric
	if metric != config.CostMetricAmortized {
		metric = config.CostMetricActual
	}

	req, err := runtime.NewRequest(ctx, http.MethodPost,
		s.resourceURL(scope+"/providers/Microsoft.CostManagement/generateCostDetailsReport", CostManagementAPIVersion))
	if err != nil {
		return nil, err
	}
	req.Raw().Header.Set("Accept", "application/json")
	body := costDetailsRequest{
		Metric: metric,
		TimePeriod: costDetailsPeriod{
			Start: params.Start.Format(time.DateOnly),
			End:   params.End.Format(time.DateOnly),
		},
	}
	if err := runtime.MarshalAsJSON(req, body); err != nil {
		return nil, fmt.Errorf("failed to encode report request: %w", err)
	}

	s.logger.Debug("Requesting cost details report",
		"scope", scope,
		"metric", metric,
		"start", body.TimePeriod.Start,
		"end", body.TimePeriod.End)
	return send(s.client.Pipeline(), req)
}

// PollBulkExport reads a report operation at the Location returned by
// StartBulkExport. 202 means the report is still being generated.
func (s *Session) PollBulkExport(ctx context.Context, location string) (*fetch.Response, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, location)
	if err != nil {
		return nil, err
	}
	req.Raw().Header.Set("Accept", "application/json")
	return send(s.client.Pipeline(), req)
}

// FetchBlobChunk downloads a byte range of a report blob. The link carries
// its own SAS token so the request is sent unauthenticated.
func (s *Session) FetchBlobChunk(ctx context.Context, link string, offset, length int64) (*fetch.Response, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, link)
	if err != nil {
		return nil, err
	}
	if length > 0 {
		req.Raw().Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	}
	return send(s.public, req)
}
