package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"example.com/labops/services/batch/internal/model"
)

// WorkOrder is the ERP's view of a production work order
type WorkOrder struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}

// WorkOrderClient defines the external work-order collaborator. Both calls
// may fail independently of the batch's own persistence; callers treat
// failures as best-effort.
type WorkOrderClient interface {
	CreateWorkOrder(ctx context.Context, batch *model.Batch) (*WorkOrder, error)
	CompleteWorkOrder(ctx context.Context, externalID string) (*WorkOrder, error)
}

// createWorkOrderRequest is the payload sent to the ERP
type createWorkOrderRequest struct {
	BatchID       string          `json:"batch_id"`
	FileID        string          `json:"file_id"`
	RunNumber     int             `json:"run_number"`
	ProductItemID string          `json:"product_item_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
}

// restClient implements WorkOrderClient against the ERP's REST API
type restClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTClient creates a work-order client backed by the ERP service
func NewRESTClient(baseURL string) WorkOrderClient {
	return &restClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateWorkOrder opens a work order in the ERP for a batch
func (c *restClient) CreateWorkOrder(ctx context.Context, batch *model.Batch) (*WorkOrder, error) {
	payload := createWorkOrderRequest{
		BatchID:       batch.UUID,
		FileID:        batch.FileID,
		RunNumber:     batch.RunNumber,
		ProductItemID: batch.ProductItemID,
		Quantity:      batch.PlannedQty,
		Unit:          batch.PlannedUnit,
	}

	var wo WorkOrder
	url := fmt.Sprintf("%s/api/v1/work-orders", c.baseURL)
	if err := c.post(ctx, url, payload, &wo); err != nil {
		return nil, err
	}
	return &wo, nil
}

// CompleteWorkOrder marks an existing work order completed in the ERP
func (c *restClient) CompleteWorkOrder(ctx context.Context, externalID string) (*WorkOrder, error) {
	var wo WorkOrder
	url := fmt.Sprintf("%s/api/v1/work-orders/%s/complete", c.baseURL, externalID)
	if err := c.post(ctx, url, struct{}{}, &wo); err != nil {
		return nil, err
	}
	return &wo, nil
}

func (c *restClient) post(ctx context.Context, url string, payload, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal work order payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(err, "failed to build work order request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(err, "work order request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("ERP returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return pkgerrors.Wrap(err, "failed to decode work order response")
	}
	return nil
}
