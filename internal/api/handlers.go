package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"example.com/labops/services/batch/internal/metrics"
	"example.com/labops/services/batch/internal/model"
	"example.com/labops/services/batch/internal/service"
)

var validate = validator.New()

// Handler bundles the API handlers and their service dependencies
type Handler struct {
	batchService   service.BatchService
	ledgerService  service.LedgerService
	archiveService service.ArchiveService
}

// NewHandler creates a new API handler
func NewHandler(
	batchService service.BatchService,
	ledgerService service.LedgerService,
	archiveService service.ArchiveService,
) *Handler {
	return &Handler{
		batchService:   batchService,
		ledgerService:  ledgerService,
		archiveService: archiveService,
	}
}

// rejectRequest is the payload for rejecting a batch in review
type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
	Actor  string `json:"actor"`
}

// CreateBatch starts a new production run
func (h *Handler) CreateBatch(c *gin.Context) {
	var req service.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ErrInvalidRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, NewValidationError(err.Error()))
		return
	}

	batch, err := h.batchService.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// UpdateBatch applies a partial update to a batch
func (h *Handler) UpdateBatch(c *gin.Context) {
	var req service.UpdateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ErrInvalidRequest)
		return
	}

	batch, err := h.batchService.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// GetBatch gets a batch by ID
func (h *Handler) GetBatch(c *gin.Context) {
	batch, err := h.batchService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// ListBatches lists batches newest first
func (h *Handler) ListBatches(c *gin.Context) {
	batches, err := h.batchService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batches)
}

// DeleteBatch deletes a batch without ledger history
func (h *Handler) DeleteBatch(c *gin.Context) {
	if err := h.batchService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RejectBatch sends a batch in review back to in progress
func (h *Handler) RejectBatch(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ErrInvalidRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, NewValidationError(err.Error()))
		return
	}

	batch, err := h.batchService.Reject(c.Request.Context(), c.Param("id"), req.Reason, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// PostTransaction posts an inventory transaction
func (h *Handler) PostTransaction(c *gin.Context) {
	var req service.PostTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ErrInvalidRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, NewValidationError(err.Error()))
		return
	}

	txn, err := h.ledgerService.Post(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, txn)
}

// ListItems lists catalog items with their lots
func (h *Handler) ListItems(c *gin.Context) {
	items, err := h.ledgerService.ListItems(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

// GetItem gets an item by ID, or by SKU via the sku query parameter
func (h *Handler) GetItem(c *gin.Context) {
	var (
		item *model.Item
		err  error
	)
	if sku := c.Query("sku"); sku != "" {
		item, err = h.ledgerService.GetItemBySKU(c.Request.Context(), sku)
	} else {
		item, err = h.ledgerService.GetItem(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// DeleteItemLot removes a lot row from an item
func (h *Handler) DeleteItemLot(c *gin.Context) {
	if err := h.ledgerService.DeleteLot(c.Request.Context(), c.Param("id"), c.Param("number")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListItemTransactions lists the ledger entries referencing an item,
// newest first
func (h *Handler) ListItemTransactions(c *gin.Context) {
	txns, err := h.ledgerService.ListByItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, txns)
}

// ListArchived lists archived batches, optionally filtered by exact folder path
func (h *Handler) ListArchived(c *gin.Context) {
	batches, err := h.archiveService.ListArchived(c.Request.Context(), c.Query("folder_path"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batches)
}

// GetArchived gets one archived batch with its signed artifact resolved
func (h *Handler) GetArchived(c *gin.Context) {
	batch, err := h.archiveService.GetArchived(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// GetArchivedDocument serves the archived batch's displayable document
func (h *Handler) GetArchivedDocument(c *gin.Context) {
	batch, err := h.archiveService.GetArchived(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if len(batch.SignedArtifact) == 0 {
		respondError(c, ErrNotFound)
		return
	}

	c.Data(http.StatusOK, "image/png", batch.SignedArtifact)
}

// SearchArchived queries the archive search index
func (h *Handler) SearchArchived(c *gin.Context) {
	term := c.Query("q")
	if term == "" {
		respondError(c, NewValidationError("query parameter q is required"))
		return
	}

	docs, err := h.archiveService.SearchArchived(c.Request.Context(), term)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, docs)
}

// Health reports service liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Metrics serves a snapshot of the in-process metrics
func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, metrics.GetMetricsCollector().Snapshot())
}
