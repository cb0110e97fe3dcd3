package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a file or folder does not exist
var ErrNotFound = errors.New("file store: not found")

// RecipeComponent is one planned component line of a file's recipe
type RecipeComponent struct {
	ItemID string          `json:"item_id"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Unit   string          `json:"unit"`
}

// File is the read-only template a batch is started from. The master
// document is the rendered master page the compositor bakes overlays onto.
type File struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	ProductItemID  string            `json:"product_item_id"`
	SolutionItemID string            `json:"solution_item_id"`
	RecipeQty      decimal.Decimal   `json:"recipe_qty"`
	RecipeUnit     string            `json:"recipe_unit"`
	Components     []RecipeComponent `json:"components"`
	FolderID       string            `json:"folder_id"`
	MasterDocument []byte            `json:"master_document,omitempty"`
}

// Folder is one node of the folder hierarchy, used only to compute
// archive folder-path snapshots
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

// Provider defines the file template and folder hierarchy collaborator
type Provider interface {
	GetFile(ctx context.Context, id string) (*File, error)
	GetFolder(ctx context.Context, id string) (*Folder, error)
}

// restProvider implements Provider against the file store's REST API
type restProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTProvider creates a provider backed by the file store service
func NewRESTProvider(baseURL string) Provider {
	return &restProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetFile fetches a file template by ID
func (p *restProvider) GetFile(ctx context.Context, id string) (*File, error) {
	var file File
	if err := p.get(ctx, fmt.Sprintf("%s/api/v1/files/%s", p.baseURL, id), &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// GetFolder fetches a folder by ID
func (p *restProvider) GetFolder(ctx context.Context, id string) (*Folder, error) {
	var folder Folder
	if err := p.get(ctx, fmt.Sprintf("%s/api/v1/folders/%s", p.baseURL, id), &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

func (p *restProvider) get(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to build file store request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(err, "file store request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("file store returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return pkgerrors.Wrap(err, "failed to decode file store response")
	}
	return nil
}
