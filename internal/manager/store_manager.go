package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/duynguyendang/fiscalxml/pkg/docstore"
)

// WorkspaceMetadata describes a company workspace. It is read from the
// optional metadata.json inside the workspace directory.
type WorkspaceMetadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TaxID       string `json:"taxId,omitempty"` // company CNPJ
}

const (
	MaxOpenStores    = 10
	WorkspaceListTTL = 1 * time.Minute
	metadataFile     = "metadata.json"
)

// ErrWorkspaceNotFound is returned for an id with no workspace directory.
var ErrWorkspaceNotFound = errors.New("workspace not found")

var workspaceID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// StoreManager keeps the document stores of several company workspaces
// open, closing the least recently used one past MaxOpenStores. A store
// evicted while acquired stays open until its last release; asking for
// the workspace again in the meantime returns that same store.
type StoreManager struct {
	baseDir       string
	template      docstore.Config
	opts          []docstore.Option
	stores        *lru.Cache[string, *docstore.Store]
	mu            sync.RWMutex
	cachedList    []WorkspaceMetadata
	lastListBuild time.Time

	// refMu guards refs and draining. Lock order: mu, then refMu.
	refMu    sync.Mutex
	refs     map[*docstore.Store]int
	draining map[string]*docstore.Store
}

// NewStoreManager creates a manager for workspaces under baseDir. Each
// store is opened with template, its DataDir replaced by the workspace
// directory.
func NewStoreManager(baseDir string, template docstore.Config, maxOpen int, opts ...docstore.Option) (*StoreManager, error) {
	if maxOpen <= 0 {
		maxOpen = MaxOpenStores
	}
	template.InMemory = false
	sm := &StoreManager{
		baseDir:  baseDir,
		template: template,
		opts:     opts,
		refs:     make(map[*docstore.Store]int),
		draining: make(map[string]*docstore.Store),
	}
	cache, err := lru.NewWithEvict[string, *docstore.Store](maxOpen, sm.evicted)
	if err != nil {
		return nil, err
	}
	sm.stores = cache
	return sm, nil
}

func (sm *StoreManager) evicted(id string, s *docstore.Store) {
	sm.refMu.Lock()
	if sm.refs[s] > 0 {
		sm.draining[id] = s
		sm.refMu.Unlock()
		slog.Debug("evicted store still in use, closing on release", "workspace", id)
		return
	}
	sm.refMu.Unlock()
	closeStore(id, s)
}

func closeStore(id string, s *docstore.Store) {
	if err := s.Close(); err != nil {
		slog.Warn("failed to close evicted store", "workspace", id, "error", err)
	}
}

// ValidID reports whether id can name a workspace directory.
func ValidID(id string) bool {
	return workspaceID.MatchString(id) && id != "." && id != ".."
}

// GetStore returns the open store of a workspace, opening it if
// necessary. A freshly opened store still needs Load before queries. The
// store may be closed by a later eviction; callers that hold it across
// other workspaces' calls use Acquire.
func (sm *StoreManager) GetStore(id string) (*docstore.Store, error) {
	if s, ok := sm.stores.Get(id); ok {
		return s, nil
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.open(id)
}

// Acquire returns the store of a workspace and keeps it open until
// release is called. release is safe to call more than once.
func (sm *StoreManager) Acquire(id string) (*docstore.Store, func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, err := sm.open(id)
	if err != nil {
		return nil, nil, err
	}
	sm.refMu.Lock()
	sm.refs[s]++
	sm.refMu.Unlock()

	var once sync.Once
	return s, func() { once.Do(func() { sm.release(id, s) }) }, nil
}

func (sm *StoreManager) release(id string, s *docstore.Store) {
	sm.refMu.Lock()
	sm.refs[s]--
	idle := sm.refs[s] <= 0
	if idle {
		delete(sm.refs, s)
	}
	drained := idle && sm.draining[id] == s
	if drained {
		delete(sm.draining, id)
	}
	sm.refMu.Unlock()

	if drained {
		closeStore(id, s)
	}
}

// open must be called with mu held.
func (sm *StoreManager) open(id string) (*docstore.Store, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrWorkspaceNotFound, id)
	}
	if s, ok := sm.stores.Get(id); ok {
		return s, nil
	}

	sm.refMu.Lock()
	s, ok := sm.draining[id]
	delete(sm.draining, id)
	sm.refMu.Unlock()
	if ok {
		sm.stores.Add(id, s)
		return s, nil
	}

	dir := filepath.Join(sm.baseDir, id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}

	cfg := sm.template
	cfg.DataDir = dir
	s, err := docstore.Open(&cfg, sm.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store for workspace %s: %w", id, err)
	}

	sm.stores.Add(id, s)
	return s, nil
}

// CreateWorkspace creates the directory and metadata of a new workspace.
// Creating an existing workspace rewrites its metadata.
func (sm *StoreManager) CreateWorkspace(meta WorkspaceMetadata) error {
	if !ValidID(meta.ID) {
		return fmt.Errorf("invalid workspace id %q", meta.ID)
	}
	dir := filepath.Join(sm.baseDir, meta.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if meta.Name == "" {
		meta.Name = meta.ID
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write workspace metadata: %w", err)
	}

	sm.mu.Lock()
	sm.cachedList = nil
	sm.mu.Unlock()
	return nil
}

// ListWorkspaces returns the workspaces under the base directory, sorted
// by id. The listing is cached for WorkspaceListTTL.
func (sm *StoreManager) ListWorkspaces() ([]WorkspaceMetadata, error) {
	sm.mu.RLock()
	if time.Since(sm.lastListBuild) < WorkspaceListTTL && sm.cachedList != nil {
		list := make([]WorkspaceMetadata, len(sm.cachedList))
		copy(list, sm.cachedList)
		sm.mu.RUnlock()
		return list, nil
	}
	sm.mu.RUnlock()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if time.Since(sm.lastListBuild) < WorkspaceListTTL && sm.cachedList != nil {
		list := make([]WorkspaceMetadata, len(sm.cachedList))
		copy(list, sm.cachedList)
		return list, nil
	}

	entries, err := os.ReadDir(sm.baseDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	workspaces := []WorkspaceMetadata{}
	for _, entry := range entries {
		if !entry.IsDir() || !ValidID(entry.Name()) {
			continue
		}
		id := entry.Name()
		meta := WorkspaceMetadata{ID: id, Name: id}

		if data, err := os.ReadFile(filepath.Join(sm.baseDir, id, metadataFile)); err == nil {
			var jsonMeta WorkspaceMetadata
			if err := json.Unmarshal(data, &jsonMeta); err == nil {
				if jsonMeta.Name != "" {
					meta.Name = jsonMeta.Name
				}
				meta.Description = jsonMeta.Description
				meta.TaxID = jsonMeta.TaxID
			}
		}
		workspaces = append(workspaces, meta)
	}
	sort.Slice(workspaces, func(i, j int) bool { return workspaces[i].ID < workspaces[j].ID })

	sm.cachedList = workspaces
	sm.lastListBuild = time.Now()

	list := make([]WorkspaceMetadata, len(workspaces))
	copy(list, workspaces)
	return list, nil
}

// Open reports the ids of the currently open stores.
func (sm *StoreManager) Open() []string {
	return sm.stores.Keys()
}

// CloseAll closes all open stores, including those still acquired.
func (sm *StoreManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stores.Purge()

	sm.refMu.Lock()
	draining := sm.draining
	sm.draining = make(map[string]*docstore.Store)
	clear(sm.refs)
	sm.refMu.Unlock()
	for id, s := range draining {
		closeStore(id, s)
	}
}
