package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Base model fields shared by all models
type Base struct {
	UUID      string    `json:"uuid" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemType defines the kind of catalog item
type ItemType string

const (
	// ChemicalItemType represents a raw chemical
	ChemicalItemType ItemType = "chemical"
	// SolutionItemType represents a mixed solution
	SolutionItemType ItemType = "solution"
	// ProductItemType represents a finished product
	ProductItemType ItemType = "product"
)

// Item represents a catalog entry with lot-tracked on-hand quantity.
// QtyOnHand is a cached aggregate; the per-lot rows are authoritative
// and the ledger recomputes the cache after every application.
type Item struct {
	Base
	SKU        string          `json:"sku" gorm:"column:sku;uniqueIndex"`
	Name       string          `json:"name"`
	Type       ItemType        `json:"type"`
	Unit       string          `json:"unit"`
	LotTracked bool            `json:"lot_tracked"`
	QtyOnHand  decimal.Decimal `json:"qty_on_hand" gorm:"type:decimal(20,4)"`
	Lots       []Lot           `json:"lots" gorm:"foreignKey:ItemID"`
	BOM        []BOMComponent  `json:"bom,omitempty" gorm:"foreignKey:ItemID"`
}

// Lot is a uniquely identified sub-quantity of an item. Lots are rows of
// their own so quantity deltas can be applied with a single atomic update
// instead of a read-modify-write on an embedded collection.
type Lot struct {
	Base
	ItemID   string          `json:"item_id" gorm:"column:item_id;type:uuid;uniqueIndex:idx_lot_item_number"`
	Number   string          `json:"number" gorm:"uniqueIndex:idx_lot_item_number"`
	Quantity decimal.Decimal `json:"quantity" gorm:"type:decimal(20,4)"`
}

// BOMComponent is one line of an item's bill of materials
type BOMComponent struct {
	Base
	ItemID          string          `json:"item_id" gorm:"column:item_id;type:uuid"`
	ComponentItemID string          `json:"component_item_id" gorm:"column:component_item_id;type:uuid"`
	Quantity        decimal.Decimal `json:"quantity" gorm:"type:decimal(20,4)"`
	Unit            string          `json:"unit"`
}

// TransactionType defines the type of inventory transaction
type TransactionType string

const (
	// ReceiptTransaction represents stock received into inventory
	ReceiptTransaction TransactionType = "receipt"
	// IssueTransaction represents stock consumed out of inventory
	IssueTransaction TransactionType = "issue"
	// AdjustmentTransaction represents a manual correction
	AdjustmentTransaction TransactionType = "adjustment"
	// BuildTransaction represents stock produced by a batch
	BuildTransaction TransactionType = "build"
)

// TransactionTypeFromString converts a string to a TransactionType
func TransactionTypeFromString(t string) TransactionType {
	switch t {
	case "receipt":
		return ReceiptTransaction
	case "issue":
		return IssueTransaction
	case "adjustment":
		return AdjustmentTransaction
	case "build":
		return BuildTransaction
	default:
		return ""
	}
}

// InventoryTransaction is an immutable, append-only ledger entry.
// Corrections are new compensating entries, never edits.
type InventoryTransaction struct {
	Base
	Type       TransactionType   `json:"type"`
	Actor      string            `json:"actor"`
	Memo       string            `json:"memo"`
	Project    string            `json:"project,omitempty"`
	Department string            `json:"department,omitempty"`
	BatchID    *string           `json:"batch_id,omitempty" gorm:"column:batch_id;type:uuid;index"`
	Lines      []TransactionLine `json:"lines" gorm:"foreignKey:TransactionID"`
}

// TransactionLine is a signed quantity delta against one lot of one item
type TransactionLine struct {
	Base
	TransactionID string          `json:"transaction_id" gorm:"column:transaction_id;type:uuid;index"`
	ItemID        string          `json:"item_id" gorm:"column:item_id;type:uuid;index"`
	LotNumber     string          `json:"lot_number"`
	QtyDelta      decimal.Decimal `json:"qty_delta" gorm:"type:decimal(20,4)"`
}

// BatchStatus defines the lifecycle state of a batch
type BatchStatus string

const (
	// DraftBatchStatus represents a batch that has not started
	DraftBatchStatus BatchStatus = "Draft"
	// InProgressBatchStatus represents a batch being worked
	InProgressBatchStatus BatchStatus = "In Progress"
	// ReviewBatchStatus represents a batch awaiting review
	ReviewBatchStatus BatchStatus = "Review"
	// CompletedBatchStatus represents a finished batch; terminal
	CompletedBatchStatus BatchStatus = "Completed"
)

// BatchStatusFromString converts a string to a BatchStatus
func BatchStatusFromString(s string) BatchStatus {
	switch s {
	case "Draft":
		return DraftBatchStatus
	case "In Progress":
		return InProgressBatchStatus
	case "Review":
		return ReviewBatchStatus
	case "Completed":
		return CompletedBatchStatus
	default:
		return ""
	}
}

// validTransitions enumerates the allowed lifecycle edges. Review back to
// In Progress (rejection) is the only backward edge, and Completed is
// reachable only from Review.
var validTransitions = map[BatchStatus][]BatchStatus{
	DraftBatchStatus:      {InProgressBatchStatus},
	InProgressBatchStatus: {ReviewBatchStatus},
	ReviewBatchStatus:     {InProgressBatchStatus, CompletedBatchStatus},
	CompletedBatchStatus:  {},
}

// CanTransition reports whether a batch may move from one status to another
func CanTransition(from, to BatchStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ComponentKind distinguishes planned (snapshot) from confirmed component rows
type ComponentKind string

const (
	// PlannedComponent is copied from the file's recipe at batch creation
	PlannedComponent ComponentKind = "planned"
	// ConfirmedComponent records the actual consumed amount and lot
	ConfirmedComponent ComponentKind = "confirmed"
)

// BatchComponent is one recipe component of a batch, either the planned
// snapshot line or the confirmed consumption line
type BatchComponent struct {
	Base
	BatchID   string          `json:"batch_id" gorm:"column:batch_id;type:uuid;index"`
	Kind      ComponentKind   `json:"kind"`
	ItemID    string          `json:"item_id" gorm:"column:item_id;type:uuid"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(20,4)"`
	Unit      string          `json:"unit"`
	LotNumber string          `json:"lot_number,omitempty"`
}

// BatchOverlay is one hand-drawn annotation layer in a batch's overlay
// history, ordered by sequence
type BatchOverlay struct {
	Base
	BatchID  string `json:"batch_id" gorm:"column:batch_id;type:uuid;index"`
	Sequence int    `json:"sequence"`
	Image    []byte `json:"image" gorm:"type:bytea"`
}

// Batch represents one production run derived from a file template.
// The recipe fields are a snapshot copied at creation time and never
// re-read from the file, so later template edits do not alter history.
type Batch struct {
	Base
	FileID    string `json:"file_id" gorm:"column:file_id;index"`
	FileName  string `json:"file_name" gorm:"-"`
	RunNumber int    `json:"run_number"`

	Status BatchStatus `json:"status" gorm:"index"`

	// Recipe snapshot
	ProductItemID  string          `json:"product_item_id" gorm:"column:product_item_id;type:uuid"`
	SolutionItemID string          `json:"solution_item_id" gorm:"column:solution_item_id;type:uuid"`
	PlannedQty     decimal.Decimal `json:"planned_qty" gorm:"type:decimal(20,4)"`
	PlannedUnit    string          `json:"planned_unit"`

	Components []BatchComponent `json:"components" gorm:"foreignKey:BatchID"`

	// Work order integration
	WorkOrderID          string     `json:"work_order_id"`
	WorkOrderStatus      string     `json:"work_order_status"`
	WorkOrderCreated     bool       `json:"work_order_created"`
	WorkOrderCreatedAt   *time.Time `json:"work_order_created_at"`
	WorkOrderCompletedAt *time.Time `json:"work_order_completed_at"`

	// Chemical consumption
	ChemicalsTransacted   bool       `json:"chemicals_transacted"`
	ChemicalsTransactedAt *time.Time `json:"chemicals_transacted_at"`

	// Solution production
	SolutionCreated   bool            `json:"solution_created"`
	SolutionLotNumber string          `json:"solution_lot_number"`
	SolutionQty       decimal.Decimal `json:"solution_qty" gorm:"type:decimal(20,4)"`
	SolutionUnit      string          `json:"solution_unit"`
	SolutionCreatedAt *time.Time      `json:"solution_created_at"`

	// Rejection
	Rejected        bool       `json:"rejected"`
	RejectionReason string     `json:"rejection_reason"`
	RejectedBy      string     `json:"rejected_by"`
	RejectedAt      *time.Time `json:"rejected_at"`

	Overlays       []BatchOverlay `json:"overlays" gorm:"foreignKey:BatchID"`
	SignedArtifact []byte         `json:"signed_artifact,omitempty" gorm:"type:bytea"`

	// Archive snapshot; the folder path is a plain string captured at
	// archive time, not a live folder reference
	IsArchived        bool       `json:"is_archived" gorm:"index"`
	ArchivedAt        *time.Time `json:"archived_at"`
	ArchiveFolderPath string     `json:"archive_folder_path"`
}

// PlannedComponents returns the recipe snapshot lines
func (b *Batch) PlannedComponents() []BatchComponent {
	return b.componentsOfKind(PlannedComponent)
}

// ConfirmedComponents returns the confirmed consumption lines
func (b *Batch) ConfirmedComponents() []BatchComponent {
	return b.componentsOfKind(ConfirmedComponent)
}

func (b *Batch) componentsOfKind(kind ComponentKind) []BatchComponent {
	var out []BatchComponent
	for _, c := range b.Components {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// OverlayImages returns the overlay history images in chronological order
func (b *Batch) OverlayImages() [][]byte {
	images := make([][]byte, len(b.Overlays))
	for i, o := range b.Overlays {
		images[i] = o.Image
	}
	return images
}
