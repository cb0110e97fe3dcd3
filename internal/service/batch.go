package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"example.com/labops/services/batch/internal/cache"
	"example.com/labops/services/batch/internal/compositor"
	"example.com/labops/services/batch/internal/erp"
	"example.com/labops/services/batch/internal/files"
	"example.com/labops/services/batch/internal/messagebus"
	"example.com/labops/services/batch/internal/metrics"
	"example.com/labops/services/batch/internal/model"
	"example.com/labops/services/batch/internal/repository"
)

// Batch engine errors
var (
	ErrInvalidTransition    = errors.New("invalid batch status transition")
	ErrInvalidAction        = errors.New("unknown batch action")
	ErrBatchArchived        = errors.New("batch is archived")
	ErrBatchHasTransactions = errors.New("batch has posted inventory transactions")
	ErrNotRejectable        = errors.New("only batches in review can be rejected")
)

// BatchAction is the closed set of compound actions a batch request can
// carry. Each action drives exactly the side effects it names; unknown
// actions are rejected up front.
type BatchAction string

const (
	// ActionNone performs no side effects beyond persistence
	ActionNone BatchAction = ""
	// ActionCreateWorkOrder opens a work order in the ERP
	ActionCreateWorkOrder BatchAction = "create_work_order"
	// ActionSubmitReview posts the confirmation's inventory transactions
	ActionSubmitReview BatchAction = "submit_review"
)

// Valid reports whether the action is a known one
func (a BatchAction) Valid() bool {
	switch a {
	case ActionNone, ActionCreateWorkOrder, ActionSubmitReview:
		return true
	}
	return false
}

// ComponentConfirmation records the actual consumed amount and lot for one
// recipe component
type ComponentConfirmation struct {
	ItemID       string          `json:"item_id" validate:"required"`
	LotNumber    string          `json:"lot_number" validate:"required"`
	ActualAmount decimal.Decimal `json:"actual_amount" validate:"required"`
	Unit         string          `json:"unit"`
}

// Confirmation carries the review-submission payload: confirmed component
// consumption and the produced solution lot
type Confirmation struct {
	Components        []ComponentConfirmation `json:"components" validate:"dive"`
	SolutionLotNumber string                  `json:"solution_lot_number"`
	SolutionQty       decimal.Decimal         `json:"solution_qty"`
	SolutionUnit      string                  `json:"solution_unit"`
}

// CreateBatchRequest defines the request to start a production run
type CreateBatchRequest struct {
	FileID       string            `json:"file_id" validate:"required"`
	Status       model.BatchStatus `json:"status"`
	Overlay      []byte            `json:"overlay"`
	Action       BatchAction       `json:"action"`
	Confirmation *Confirmation     `json:"confirmation"`
	Actor        string            `json:"actor"`
}

// UpdateBatchRequest defines a partial update to a batch
type UpdateBatchRequest struct {
	Status       *model.BatchStatus `json:"status"`
	Overlay      []byte             `json:"overlay"`
	Confirmation *Confirmation      `json:"confirmation"`
	Actor        string             `json:"actor"`
}

// batchEvent is the lifecycle notification published to the ERP queue
type batchEvent struct {
	Event      string    `json:"event"`
	BatchID    string    `json:"batch_id"`
	FileID     string    `json:"file_id"`
	RunNumber  int       `json:"run_number"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BatchService defines the interface for the batch lifecycle engine
type BatchService interface {
	Create(ctx context.Context, req *CreateBatchRequest) (*model.Batch, error)
	Update(ctx context.Context, id string, req *UpdateBatchRequest) (*model.Batch, error)
	Get(ctx context.Context, id string) (*model.Batch, error)
	List(ctx context.Context) ([]*model.Batch, error)
	Delete(ctx context.Context, id string) error
	Reject(ctx context.Context, id, reason, actor string) (*model.Batch, error)
}

// batchService implements BatchService
type batchService struct {
	repo      repository.BatchRepository
	txnRepo   repository.TransactionRepository
	ledger    LedgerService
	archive   ArchiveService
	provider  files.Provider
	workOrder erp.WorkOrderClient
	bus       messagebus.Client
	cache     cache.CacheClient
	erpQueue  string
}

// NewBatchService creates a new batch service
func NewBatchService(
	repo repository.BatchRepository,
	txnRepo repository.TransactionRepository,
	ledger LedgerService,
	archive ArchiveService,
	provider files.Provider,
	workOrder erp.WorkOrderClient,
	bus messagebus.Client,
	cacheClient cache.CacheClient,
	erpQueue string,
) BatchService {
	return &batchService{
		repo:      repo,
		txnRepo:   txnRepo,
		ledger:    ledger,
		archive:   archive,
		provider:  provider,
		workOrder: workOrder,
		bus:       bus,
		cache:     cacheClient,
		erpQueue:  erpQueue,
	}
}

// Create starts a production run against a file template. The file's
// recipe fields are copied into the batch as an immutable snapshot and
// never re-read afterward, so template edits cannot alter history. The
// requested action's side effects (work order, confirmation postings) are
// each best-effort: their failures are logged, flagged on the batch, and
// never abort creation.
func (s *batchService) Create(ctx context.Context, req *CreateBatchRequest) (*model.Batch, error) {
	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	if !req.Action.Valid() {
		collector.RecordError(metrics.ErrorTypeValidation)
		return nil, ErrInvalidAction
	}

	status := req.Status
	if status == "" {
		status = model.InProgressBatchStatus
	}
	if model.BatchStatusFromString(string(status)) == "" {
		collector.RecordError(metrics.ErrorTypeValidation)
		return nil, fmt.Errorf("unknown batch status %q", status)
	}
	if status == model.CompletedBatchStatus {
		// Completion is only reachable through review
		collector.RecordError(metrics.ErrorTypeValidation)
		return nil, ErrInvalidTransition
	}

	file, err := s.provider.GetFile(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		collector.RecordError(metrics.ErrorTypeCollabor)
		return nil, pkgerrors.Wrap(err, "failed to load file template")
	}

	runNumber, err := s.repo.NextRunNumber(ctx, file.ID)
	if err != nil {
		collector.RecordError(metrics.ErrorTypeDatabase)
		return nil, pkgerrors.Wrap(err, "failed to assign run number")
	}

	batch := &model.Batch{
		Base:           model.Base{UUID: uuid.New().String()},
		FileID:         file.ID,
		RunNumber:      runNumber,
		Status:         status,
		ProductItemID:  file.ProductItemID,
		SolutionItemID: file.SolutionItemID,
		PlannedQty:     file.RecipeQty,
		PlannedUnit:    file.RecipeUnit,
	}
	for _, c := range file.Components {
		batch.Components = append(batch.Components, model.BatchComponent{
			Base:    model.Base{UUID: uuid.New().String()},
			BatchID: batch.UUID,
			Kind:    model.PlannedComponent,
			ItemID:  c.ItemID,
			Name:    c.Name,
			Amount:  c.Amount,
			Unit:    c.Unit,
		})
	}

	if len(req.Overlay) > 0 && len(file.MasterDocument) > 0 {
		batch.Overlays = append(batch.Overlays, model.BatchOverlay{
			Base:     model.Base{UUID: uuid.New().String()},
			BatchID:  batch.UUID,
			Sequence: 1,
			Image:    req.Overlay,
		})
		artifact, err := compositor.Bake(file.MasterDocument, req.Overlay)
		if err != nil {
			// The batch is still created without a signed artifact; the
			// overlay history allows a later rebuild
			logrus.WithError(err).WithField("file_id", file.ID).Warn("Failed to bake initial overlay")
		} else {
			batch.SignedArtifact = artifact
			collector.RecordOverlayBaked()
		}
	}

	batch, err = s.repo.Create(ctx, batch)
	if err != nil {
		collector.RecordError(metrics.ErrorTypeDatabase)
		return nil, err
	}

	switch req.Action {
	case ActionNone:
	case ActionCreateWorkOrder:
		s.createWorkOrder(ctx, batch)
		if _, err := s.repo.Update(ctx, batch); err != nil {
			logrus.WithError(err).WithField("batch_id", batch.UUID).Error("Failed to persist work order fields")
		}
	case ActionSubmitReview:
		if req.Confirmation != nil {
			s.applyConfirmation(ctx, batch, req.Confirmation, req.Actor)
			if _, err := s.repo.Update(ctx, batch); err != nil {
				logrus.WithError(err).WithField("batch_id", batch.UUID).Error("Failed to persist confirmation flags")
			}
		}
	}

	batch.FileName = file.Name

	if err := s.cache.SetBatch(ctx, batch); err != nil {
		logrus.WithError(err).Warn("Failed to cache batch")
	}

	collector.RecordBatchOperation(metrics.BatchOperationCreate, time.Since(startTime))
	return batch, nil
}

// Update applies a partial update to a batch. A missing batch is fatal;
// every embedded side effect (overlay baking, ledger postings, work-order
// completion, ERP publish) is individually best-effort and leaves its
// outcome on the batch's flags rather than failing the update. The
// transition into Completed archives the batch exactly once.
func (s *batchService) Update(ctx context.Context, id string, req *UpdateBatchRequest) (*model.Batch, error) {
	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	batch, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	prevStatus := batch.Status
	if req.Status != nil && *req.Status != prevStatus {
		if !model.CanTransition(prevStatus, *req.Status) {
			collector.RecordError(metrics.ErrorTypeValidation)
			return nil, pkgerrors.Wrapf(ErrInvalidTransition, "%s -> %s", prevStatus, *req.Status)
		}
		batch.Status = *req.Status
	}

	var file *files.File
	loadFile := func() *files.File {
		if file != nil {
			return file
		}
		f, err := s.provider.GetFile(ctx, batch.FileID)
		if err != nil {
			logrus.WithError(err).WithField("batch_id", batch.UUID).Warn("Failed to load file template")
			collector.RecordError(metrics.ErrorTypeCollabor)
			return nil
		}
		file = f
		return file
	}

	if len(req.Overlay) > 0 {
		if f := loadFile(); f != nil && len(f.MasterDocument) > 0 {
			s.appendOverlay(ctx, batch, f, req.Overlay)
		}
	}

	if req.Confirmation != nil {
		s.applyConfirmation(ctx, batch, req.Confirmation, req.Actor)
	}

	completing := batch.Status == model.CompletedBatchStatus && prevStatus != model.CompletedBatchStatus

	if completing && batch.WorkOrderCreated && batch.WorkOrderID != "" {
		wo, err := s.workOrder.CompleteWorkOrder(ctx, batch.WorkOrderID)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"batch_id":      batch.UUID,
				"work_order_id": batch.WorkOrderID,
			}).Warn("Failed to complete work order")
			collector.RecordError(metrics.ErrorTypeCollabor)
		} else {
			now := time.Now()
			batch.WorkOrderStatus = wo.Status
			batch.WorkOrderCompletedAt = &now
		}
	}

	batch, err = s.repo.Update(ctx, batch)
	if err != nil {
		collector.RecordError(metrics.ErrorTypeDatabase)
		return nil, err
	}

	if completing {
		s.publishEvent(ctx, batch, "batch-completed")
		if err := s.archive.Archive(ctx, batch); err != nil {
			logrus.WithError(err).WithField("batch_id", batch.UUID).Error("Failed to archive completed batch")
		} else {
			s.publishEvent(ctx, batch, "batch-archived")
		}
		collector.RecordBatchOperation(metrics.BatchOperationComplete, time.Since(startTime))
	}

	if batch.FileName == "" {
		if f := loadFile(); f != nil {
			batch.FileName = f.Name
		}
	}

	if err := s.cache.SetBatch(ctx, batch); err != nil {
		logrus.WithError(err).Warn("Failed to cache batch")
	}

	collector.RecordBatchOperation(metrics.BatchOperationUpdate, time.Since(startTime))
	return batch, nil
}

// appendOverlay adds an overlay to the history and re-bakes the signed
// artifact from scratch: master first, then every overlay in chronological
// order. The artifact is never patched incrementally, which keeps it fully
// reconstructible from the master and the history alone.
func (s *batchService) appendOverlay(ctx context.Context, batch *model.Batch, file *files.File, image []byte) {
	collector := metrics.GetMetricsCollector()

	overlay := model.BatchOverlay{
		Base:     model.Base{UUID: uuid.New().String()},
		BatchID:  batch.UUID,
		Sequence: len(batch.Overlays) + 1,
		Image:    image,
	}
	if err := s.repo.CreateOverlay(ctx, &overlay); err != nil {
		logrus.WithError(err).WithField("batch_id", batch.UUID).Error("Failed to persist overlay")
		collector.RecordError(metrics.ErrorTypeDatabase)
		return
	}
	batch.Overlays = append(batch.Overlays, overlay)

	artifact, err := compositor.BakeAll(file.MasterDocument, batch.OverlayImages())
	if err != nil {
		logrus.WithError(err).WithField("batch_id", batch.UUID).Warn("Failed to re-bake signed artifact")
		return
	}
	batch.SignedArtifact = artifact
	collector.RecordOverlayBaked()
}

// createWorkOrder opens a work order in the ERP for the batch, best-effort
func (s *batchService) createWorkOrder(ctx context.Context, batch *model.Batch) {
	if batch.WorkOrderCreated {
		return
	}

	wo, err := s.workOrder.CreateWorkOrder(ctx, batch)
	if err != nil {
		// The batch stays usable without a work order; the unset flag
		// tells callers to retry
		logrus.WithError(err).WithField("batch_id", batch.UUID).Warn("Failed to create work order")
		metrics.GetMetricsCollector().RecordError(metrics.ErrorTypeCollabor)
		return
	}

	now := time.Now()
	batch.WorkOrderID = wo.ExternalID
	batch.WorkOrderStatus = wo.Status
	batch.WorkOrderCreated = true
	batch.WorkOrderCreatedAt = &now
}

// applyConfirmation posts the confirmation's inventory transactions. Each
// sub-step is guarded by its persisted flag, so re-running a confirmation
// retries only the steps that have not completed. The two postings fail
// independently.
func (s *batchService) applyConfirmation(ctx context.Context, batch *model.Batch, conf *Confirmation, actor string) {
	if len(conf.Components) > 0 && !batch.ChemicalsTransacted {
		s.consumeComponents(ctx, batch, conf.Components, actor)
	}

	if conf.SolutionLotNumber != "" && !batch.SolutionCreated {
		s.createSolutionLot(ctx, batch, conf, actor)
	}
}

// consumeComponents posts one issue transaction consuming the confirmed
// component lots
func (s *batchService) consumeComponents(ctx context.Context, batch *model.Batch, components []ComponentConfirmation, actor string) {
	req := &PostTransactionRequest{
		Type:    string(model.IssueTransaction),
		Actor:   actor,
		Memo:    fmt.Sprintf("Component consumption for run %d", batch.RunNumber),
		BatchID: &batch.UUID,
	}
	for _, c := range components {
		req.Lines = append(req.Lines, TransactionLineRequest{
			ItemID:    c.ItemID,
			LotNumber: c.LotNumber,
			Qty:       c.ActualAmount.Neg(),
		})
	}

	if _, err := s.ledger.Post(ctx, req); err != nil {
		logrus.WithError(err).WithField("batch_id", batch.UUID).Warn("Failed to post component consumption")
		return
	}

	now := time.Now()
	batch.ChemicalsTransacted = true
	batch.ChemicalsTransactedAt = &now

	for _, c := range components {
		component := model.BatchComponent{
			Base:      model.Base{UUID: uuid.New().String()},
			BatchID:   batch.UUID,
			Kind:      model.ConfirmedComponent,
			ItemID:    c.ItemID,
			Amount:    c.ActualAmount,
			Unit:      c.Unit,
			LotNumber: c.LotNumber,
		}
		if err := s.repo.CreateComponent(ctx, &component); err != nil {
			logrus.WithError(err).WithField("batch_id", batch.UUID).Error("Failed to persist confirmed component")
			continue
		}
		batch.Components = append(batch.Components, component)
	}
}

// createSolutionLot posts one build transaction producing the solution lot.
// Quantity and unit default to the snapshot's planned values.
func (s *batchService) createSolutionLot(ctx context.Context, batch *model.Batch, conf *Confirmation, actor string) {
	qty := conf.SolutionQty
	if qty.IsZero() {
		qty = batch.PlannedQty
	}
	unit := conf.SolutionUnit
	if unit == "" {
		unit = batch.PlannedUnit
	}

	req := &PostTransactionRequest{
		Type:    string(model.BuildTransaction),
		Actor:   actor,
		Memo:    fmt.Sprintf("Solution build for run %d", batch.RunNumber),
		BatchID: &batch.UUID,
		Lines: []TransactionLineRequest{
			{
				ItemID:    batch.SolutionItemID,
				LotNumber: conf.SolutionLotNumber,
				Qty:       qty,
			},
		},
	}

	if _, err := s.ledger.Post(ctx, req); err != nil {
		logrus.WithError(err).WithField("batch_id", batch.UUID).Warn("Failed to post solution build")
		return
	}

	now := time.Now()
	batch.SolutionCreated = true
	batch.SolutionLotNumber = conf.SolutionLotNumber
	batch.SolutionQty = qty
	batch.SolutionUnit = unit
	batch.SolutionCreatedAt = &now
}

// publishEvent pushes a lifecycle notification to the ERP queue with retry,
// best-effort
func (s *batchService) publishEvent(ctx context.Context, batch *model.Batch, event string) {
	if s.bus == nil {
		return
	}

	msg := batchEvent{
		Event:      event,
		BatchID:    batch.UUID,
		FileID:     batch.FileID,
		RunNumber:  batch.RunNumber,
		Status:     string(batch.Status),
		OccurredAt: time.Now(),
	}

	err := messagebus.RetryWithBackoff(ctx, func() error {
		return s.bus.PublishMessage(ctx, msg, s.erpQueue)
	}, 3)
	if err != nil {
		logrus.WithError(err).WithField("batch_id", batch.UUID).Warn("Failed to publish batch event")
	}
}

// Get gets a batch by ID, trying the cache first
func (s *batchService) Get(ctx context.Context, id string) (*model.Batch, error) {
	batch, err := s.cache.GetBatch(ctx, id)
	if err == nil {
		return batch, nil
	}
	if err != redis.Nil {
		logrus.WithError(err).Warn("Failed to get batch from cache")
	}

	batch, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if file, err := s.provider.GetFile(ctx, batch.FileID); err == nil {
		batch.FileName = file.Name
	}

	if err := s.cache.SetBatch(ctx, batch); err != nil {
		logrus.WithError(err).Warn("Failed to cache batch")
	}

	return batch, nil
}

// List lists batches newest first
func (s *batchService) List(ctx context.Context) ([]*model.Batch, error) {
	return s.repo.List(ctx)
}

// Delete removes a batch. Batches that have posted inventory transactions
// are never deleted (referential integrity with the ledger), nor are
// archived batches.
func (s *batchService) Delete(ctx context.Context, id string) error {
	batch, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if batch.IsArchived {
		return ErrBatchArchived
	}

	count, err := s.txnRepo.CountByBatch(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrBatchHasTransactions
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.cache.DeleteBatch(ctx, id); err != nil {
		logrus.WithError(err).Warn("Failed to evict batch from cache")
	}
	return nil
}

// Reject sends a batch in review back to in progress with the rejection
// recorded; the only backward edge in the lifecycle
func (s *batchService) Reject(ctx context.Context, id, reason, actor string) (*model.Batch, error) {
	batch, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status != model.ReviewBatchStatus {
		return nil, ErrNotRejectable
	}

	now := time.Now()
	batch.Status = model.InProgressBatchStatus
	batch.Rejected = true
	batch.RejectionReason = reason
	batch.RejectedBy = actor
	batch.RejectedAt = &now

	batch, err = s.repo.Update(ctx, batch)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetBatch(ctx, batch); err != nil {
		logrus.WithError(err).Warn("Failed to cache batch")
	}

	return batch, nil
}
