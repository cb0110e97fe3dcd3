package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"example.com/labops/services/batch/internal/files"
	"example.com/labops/services/batch/internal/metrics"
	"example.com/labops/services/batch/internal/model"
	"example.com/labops/services/batch/internal/repository"
	"example.com/labops/services/batch/internal/search"
)

// rootFolderPath is the path snapshot for files that live at the root
const rootFolderPath = "Root"

// maxFolderDepth bounds the ancestor walk against cyclic folder data
const maxFolderDepth = 32

// ArchiveService defines the interface for the completed-batch archive
type ArchiveService interface {
	Archive(ctx context.Context, batch *model.Batch) error
	ListArchived(ctx context.Context, folderPath string) ([]*model.Batch, error)
	GetArchived(ctx context.Context, id string) (*model.Batch, error)
	SearchArchived(ctx context.Context, term string) ([]json.RawMessage, error)
}

// archivedDocument is the projection indexed for downstream search
type archivedDocument struct {
	UUID       string     `json:"uuid"`
	FileID     string     `json:"file_id"`
	FileName   string     `json:"file_name"`
	RunNumber  int        `json:"run_number"`
	FolderPath string     `json:"folder_path"`
	ArchivedAt *time.Time `json:"archived_at"`
}

// archiveService implements ArchiveService
type archiveService struct {
	repo     repository.BatchRepository
	provider files.Provider
	search   search.Client
}

// NewArchiveService creates a new archive service
func NewArchiveService(
	repo repository.BatchRepository,
	provider files.Provider,
	searchClient search.Client,
) ArchiveService {
	return &archiveService{
		repo:     repo,
		provider: provider,
		search:   searchClient,
	}
}

// Archive snapshots a completed batch into the archived partition. The
// folder path is computed once, from the file's current ancestor chain,
// and stored as a plain string on the batch: later folder renames do not
// touch archived records. Archiving an already-archived batch is a no-op.
func (s *archiveService) Archive(ctx context.Context, batch *model.Batch) error {
	if batch.IsArchived {
		return nil
	}

	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	file, err := s.provider.GetFile(ctx, batch.FileID)
	if err != nil {
		collector.RecordError(metrics.ErrorTypeCollabor)
		return err
	}

	now := time.Now()
	batch.IsArchived = true
	batch.ArchivedAt = &now
	batch.ArchiveFolderPath = s.folderPath(ctx, file.FolderID)
	batch.FileName = file.Name

	if _, err := s.repo.Update(ctx, batch); err != nil {
		collector.RecordError(metrics.ErrorTypeDatabase)
		return err
	}

	s.indexArchived(ctx, batch)

	collector.RecordBatchOperation(metrics.BatchOperationArchive, time.Since(startTime))
	return nil
}

// folderPath walks the folder ancestor chain up to the root and joins the
// names into a display string
func (s *archiveService) folderPath(ctx context.Context, folderID string) string {
	if folderID == "" {
		return rootFolderPath
	}

	var names []string
	current := folderID
	for depth := 0; current != "" && depth < maxFolderDepth; depth++ {
		folder, err := s.provider.GetFolder(ctx, current)
		if err != nil {
			logrus.WithError(err).WithField("folder_id", current).Warn("Failed to resolve folder ancestor")
			break
		}
		names = append([]string{folder.Name}, names...)
		current = folder.ParentID
	}

	if len(names) == 0 {
		return rootFolderPath
	}
	return strings.Join(names, " / ")
}

// indexArchived pushes the archive projection to the search index,
// best-effort
func (s *archiveService) indexArchived(ctx context.Context, batch *model.Batch) {
	if s.search == nil {
		return
	}

	doc, err := json.Marshal(archivedDocument{
		UUID:       batch.UUID,
		FileID:     batch.FileID,
		FileName:   batch.FileName,
		RunNumber:  batch.RunNumber,
		FolderPath: batch.ArchiveFolderPath,
		ArchivedAt: batch.ArchivedAt,
	})
	if err != nil {
		logrus.WithError(err).Warn("Failed to marshal archive projection")
		return
	}

	if err := s.search.IndexDocument(ctx, batch.UUID, doc); err != nil {
		logrus.WithError(err).WithField("batch_id", batch.UUID).Warn("Failed to index archived batch")
	}
}

// ListArchived returns archived batches newest first, optionally filtered
// by exact folder path
func (s *archiveService) ListArchived(ctx context.Context, folderPath string) ([]*model.Batch, error) {
	return s.repo.ListArchived(ctx, folderPath)
}

// GetArchived returns one archived batch with its signed artifact resolved
// to a displayable document. Batches that never baked an artifact fall
// back to the file's own master document.
func (s *archiveService) GetArchived(ctx context.Context, id string) (*model.Batch, error) {
	batch, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !batch.IsArchived {
		return nil, repository.ErrNotFound
	}

	file, err := s.provider.GetFile(ctx, batch.FileID)
	if err != nil {
		logrus.WithError(err).WithField("batch_id", id).Warn("Failed to resolve source file for archived batch")
	} else {
		batch.FileName = file.Name
		if len(batch.SignedArtifact) == 0 {
			batch.SignedArtifact = file.MasterDocument
		}
	}

	return batch, nil
}

// SearchArchived queries the archive projection index
func (s *archiveService) SearchArchived(ctx context.Context, term string) ([]json.RawMessage, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  term,
				"fields": []string{"file_name", "folder_path"},
			},
		},
		"sort": []map[string]interface{}{
			{"archived_at": map[string]string{"order": "desc"}},
		},
	}
	return s.search.SearchDocuments(ctx, query)
}
