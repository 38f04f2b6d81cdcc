package opensearch

import (
	"context"
	"net/http"

	"github.com/tinytelemetry/sightline/internal/model"
)

// PredictAnomalies posts a categorized series to the prediction endpoint.
func (c *Client) PredictAnomalies(ctx context.Context, req model.AnomalyRequest) (*model.AnomalyResponse, error) {
	var resp model.AnomalyResponse
	if err := c.do(ctx, "anomaly", http.MethodPost, c.anomalyPath, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
