// Package service exposes the operations of the application over a set of
// company workspaces. The CLI and the HTTP server are both thin callers of
// Service.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/duynguyendang/fiscalxml/internal/license"
	"github.com/duynguyendang/fiscalxml/internal/manager"
	apperrors "github.com/duynguyendang/fiscalxml/pkg/common/errors"
	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/export"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
	"github.com/duynguyendang/fiscalxml/pkg/ingest"
	"github.com/duynguyendang/fiscalxml/pkg/walker"
)

// WorkspaceManager abstracts the store manager. An acquired store stays
// open until release is called.
type WorkspaceManager interface {
	Acquire(id string) (store *docstore.Store, release func(), err error)
	CreateWorkspace(meta manager.WorkspaceMetadata) error
	ListWorkspaces() ([]manager.WorkspaceMetadata, error)
}

// Settings carries the run-time configuration of the operations.
type Settings struct {
	Ingest  ingest.Config
	Walker  []walker.Option
	Export  []export.Option
	Columns []export.Column // nil for the default set
}

// Service runs imports, queries and exports against workspaces.
type Service struct {
	workspaces WorkspaceManager
	gate       license.Gate
	settings   Settings
	logger     *slog.Logger
	recorder   ingest.Recorder

	mu        sync.Mutex
	pipelines map[string]workspacePipeline
}

// workspacePipeline pins a pipeline to the store it writes to. A store
// reopened after eviction gets a new pipeline.
type workspacePipeline struct {
	store    *docstore.Store
	pipeline *ingest.Pipeline
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRecorder(r ingest.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// New creates a Service. A nil gate permits everything.
func New(workspaces WorkspaceManager, gate license.Gate, settings Settings, opts ...Option) *Service {
	if gate == nil {
		gate = license.AllowAll{}
	}
	s := &Service{
		workspaces: workspaces,
		gate:       gate,
		settings:   settings,
		logger:     slog.Default(),
		pipelines:  make(map[string]workspacePipeline),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Workspaces lists the known workspaces.
func (s *Service) Workspaces() ([]manager.WorkspaceMetadata, error) {
	return s.workspaces.ListWorkspaces()
}

// CreateWorkspace creates a workspace or updates its metadata.
func (s *Service) CreateWorkspace(meta manager.WorkspaceMetadata) error {
	if !manager.ValidID(meta.ID) {
		return fmt.Errorf("%w: invalid workspace id %q", apperrors.ErrInvalidInput, meta.ID)
	}
	return s.workspaces.CreateWorkspace(meta)
}

// Load makes the workspace store queryable.
func (s *Service) Load(ctx context.Context, ws string, progress fiscal.ProgressFunc) (int, error) {
	store, release, err := s.acquire(ws)
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := store.Load(ctx, progress)
	return n, mapError(err)
}

// Import walks root and commits what it finds into the workspace, creating
// the workspace when it does not exist yet. The result is returned even
// when the run fails or is cancelled.
func (s *Service) Import(ctx context.Context, ws, root string, mode walker.Mode, progress fiscal.ProgressFunc) (*ingest.Result, error) {
	if err := s.gate.Check(ctx); err != nil {
		return nil, err
	}
	store, release, err := s.acquire(ws)
	if errors.Is(err, apperrors.ErrNotFound) {
		if err := s.workspaces.CreateWorkspace(manager.WorkspaceMetadata{ID: ws}); err != nil {
			return nil, err
		}
		store, release, err = s.acquire(ws)
	}
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.pipeline(ws, store)
	if err != nil {
		return nil, err
	}
	src := walker.New(root, mode, slices.Concat(s.settings.Walker, []walker.Option{walker.WithLogger(s.logger)})...)
	res, err := p.Run(ctx, src, progress)
	if errors.Is(err, ingest.ErrRunInProgress) {
		return nil, fmt.Errorf("%w: an import is already running in workspace %s", apperrors.ErrConflict, ws)
	}
	return res, err
}

// pipeline returns the workspace pipeline. One pipeline per workspace
// keeps imports into the same store from overlapping.
func (s *Service) pipeline(ws string, store *docstore.Store) (*ingest.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wp, ok := s.pipelines[ws]; ok && wp.store == store {
		return wp.pipeline, nil
	}
	p, err := ingest.New(store, s.settings.Ingest,
		ingest.WithLogger(s.logger.With("workspace", ws)),
		ingest.WithRecorder(s.recorder),
	)
	if err != nil {
		return nil, err
	}
	s.pipelines[ws] = workspacePipeline{store: store, pipeline: p}
	return p, nil
}

// Query streams the documents of a workspace matching f.
func (s *Service) Query(ctx context.Context, ws string, f docstore.Filter) iter.Seq2[fiscal.Document, error] {
	return func(yield func(fiscal.Document, error) bool) {
		store, release, err := s.acquire(ws)
		if err != nil {
			yield(fiscal.Document{}, err)
			return
		}
		defer release()
		for doc, err := range store.Query(ctx, f) {
			if !yield(doc, mapError(err)) || err != nil {
				return
			}
		}
	}
}

// List collects a page of documents.
func (s *Service) List(ctx context.Context, ws string, f docstore.Filter) ([]fiscal.Document, error) {
	docs, err := docstore.Collect(s.Query(ctx, ws, f))
	if docs == nil {
		docs = []fiscal.Document{}
	}
	return docs, err
}

func (s *Service) Get(ctx context.Context, ws string, k fiscal.Key) (fiscal.Document, error) {
	store, release, err := s.acquire(ws)
	if err != nil {
		return fiscal.Document{}, err
	}
	defer release()
	doc, err := store.Get(ctx, k)
	return doc, mapError(err)
}

// Raw returns the original XML of a document.
func (s *Service) Raw(ctx context.Context, ws string, k fiscal.Key) ([]byte, error) {
	store, release, err := s.acquire(ws)
	if err != nil {
		return nil, err
	}
	defer release()
	data, err := store.Raw(ctx, k)
	return data, mapError(err)
}

// Delete removes every document stored under accessKey.
func (s *Service) Delete(ctx context.Context, ws, accessKey string) (int, error) {
	if accessKey == "" {
		return 0, fmt.Errorf("%w: access key is required", apperrors.ErrInvalidInput)
	}
	store, release, err := s.acquire(ws)
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := store.Delete(ctx, accessKey)
	return n, mapError(err)
}

func (s *Service) Stats(ctx context.Context, ws string) (docstore.Stats, error) {
	store, release, err := s.acquire(ws)
	if err != nil {
		return docstore.Stats{}, err
	}
	defer release()
	st, err := store.Stats(ctx)
	return st, mapError(err)
}

// Export writes the documents matching f to dest. A nil cols uses the
// configured columns.
func (s *Service) Export(ctx context.Context, ws string, f docstore.Filter, format export.Format, cols []export.Column, dest string, opts ...export.Option) (int, error) {
	if err := s.gate.Check(ctx); err != nil {
		return 0, err
	}
	if cols == nil {
		cols = s.settings.Columns
	}
	n, err := export.Export(ctx, s.Query(ctx, ws, f), format, cols, dest, s.exportOptions(opts)...)
	return n, mapError(err)
}

// ExportTo streams an export to w.
func (s *Service) ExportTo(ctx context.Context, w io.Writer, ws string, f docstore.Filter, format export.Format, cols []export.Column, opts ...export.Option) (int, error) {
	if err := s.gate.Check(ctx); err != nil {
		return 0, err
	}
	if cols == nil {
		cols = s.settings.Columns
	}
	n, err := export.Write(ctx, w, s.Query(ctx, ws, f), format, cols, s.exportOptions(opts)...)
	return n, mapError(err)
}

func (s *Service) exportOptions(extra []export.Option) []export.Option {
	return slices.Concat(s.settings.Export, extra)
}

func (s *Service) acquire(ws string) (*docstore.Store, func(), error) {
	store, release, err := s.workspaces.Acquire(ws)
	return store, release, mapError(err)
}

// mapError tags store errors with the application sentinels.
func mapError(err error) error {
	switch {
	case errors.Is(err, manager.ErrWorkspaceNotFound), errors.Is(err, docstore.ErrNotFound):
		return apperrors.Tag(apperrors.ErrNotFound, err)
	case errors.Is(err, docstore.ErrNotLoaded), errors.Is(err, docstore.ErrReadOnly):
		return apperrors.Tag(apperrors.ErrConflict, err)
	case errors.Is(err, export.ErrUnknownColumn), errors.Is(err, export.ErrUnsupportedFormat):
		return apperrors.Tag(apperrors.ErrInvalidInput, err)
	}
	return err
}
