package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/duynguyendang/fiscalxml/internal/manager"
	"github.com/duynguyendang/fiscalxml/pkg/common/errors"
	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/export"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
	"github.com/duynguyendang/fiscalxml/pkg/walker"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// DocumentsResponse is one page of documents.
type DocumentsResponse struct {
	Documents []fiscal.Document `json:"documents"`
	Offset    int               `json:"offset"`
	Limit     int               `json:"limit"`
}

func (s *Server) workspaceOf(c *gin.Context) string {
	if ws := c.Query("workspace"); ws != "" {
		return ws
	}
	return s.workspace
}

// handleWorkspaces returns the known workspaces.
func (s *Server) handleWorkspaces(c *gin.Context) {
	list, err := s.svc.Workspaces()
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	var meta manager.WorkspaceMetadata
	if err := c.ShouldBindJSON(&meta); err != nil {
		handleError(c, errors.NewAppError(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	if err := s.svc.CreateWorkspace(meta); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

// handleLoad makes a workspace queryable.
func (s *Server) handleLoad(c *gin.Context) {
	n, err := s.svc.Load(c.Request.Context(), c.Param("id"), nil)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": n})
}

// handleDocuments returns a page of documents matching the query parameters.
func (s *Server) handleDocuments(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		handleError(c, err)
		return
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}

	docs, err := s.svc.List(c.Request.Context(), s.workspaceOf(c), f)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, DocumentsResponse{Documents: docs, Offset: f.Offset, Limit: f.Limit})
}

func (s *Server) handleDocument(c *gin.Context) {
	k, err := parseKey(c)
	if err != nil {
		handleError(c, err)
		return
	}
	doc, err := s.svc.Get(c.Request.Context(), s.workspaceOf(c), k)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// handleRaw returns the original XML of a document.
func (s *Server) handleRaw(c *gin.Context) {
	k, err := parseKey(c)
	if err != nil {
		handleError(c, err)
		return
	}
	data, err := s.svc.Raw(c.Request.Context(), s.workspaceOf(c), k)
	if err != nil {
		handleError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", data)
}

func (s *Server) handleDelete(c *gin.Context) {
	n, err := s.svc.Delete(c.Request.Context(), s.workspaceOf(c), c.Param("key"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.svc.Stats(c.Request.Context(), s.workspaceOf(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleImport runs an import of a path on the server host and returns
// the run summary once it has finished.
func (s *Server) handleImport(c *gin.Context) {
	var req struct {
		Workspace string `json:"workspace"`
		Path      string `json:"path"`
		Mode      string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, errors.NewAppError(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		handleError(c, errors.NewAppError(http.StatusBadRequest, "Missing path", nil))
		return
	}
	mode, err := walker.ParseMode(req.Mode)
	if err != nil {
		handleError(c, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err))
		return
	}
	ws := req.Workspace
	if ws == "" {
		ws = s.workspace
	}

	res, err := s.svc.Import(c.Request.Context(), ws, req.Path, mode, nil)
	if res == nil {
		handleError(c, err)
		return
	}
	body := gin.H{"result": res}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// handleExport streams the matching documents as an attachment.
func (s *Server) handleExport(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		handleError(c, err)
		return
	}
	format, err := export.ParseFormat(c.DefaultQuery("format", "csv"))
	if err != nil {
		handleError(c, fmt.Errorf("%w: %w", errors.ErrInvalidInput, err))
		return
	}
	var cols []export.Column
	if spec := c.Query("columns"); spec != "" {
		if cols, err = export.ParseColumns(spec); err != nil {
			handleError(c, fmt.Errorf("%w: %w", errors.ErrInvalidInput, err))
			return
		}
	}
	var opts []export.Option
	if c.Query("items") == "true" {
		opts = append(opts, export.WithItems())
	}

	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="documents%s"`, format.Extension()))
	if _, err := s.svc.ExportTo(c.Request.Context(), c.Writer, s.workspaceOf(c), f, format, cols, opts...); err != nil {
		if c.Writer.Written() {
			_ = c.Error(err)
			return
		}
		c.Header("Content-Type", "")
		c.Header("Content-Disposition", "")
		handleError(c, err)
	}
}

func parseKey(c *gin.Context) (fiscal.Key, error) {
	t, err := fiscal.ParseDocumentType(c.Param("type"))
	if err != nil {
		return fiscal.Key{}, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	return fiscal.Key{Type: t, AccessKey: c.Param("key")}, nil
}

// parseFilter reads type, status, from, to, q, fuzzy, sort, offset and
// limit. type and status take comma separated lists.
func parseFilter(c *gin.Context) (docstore.Filter, error) {
	var f docstore.Filter
	bad := func(err error) (docstore.Filter, error) {
		return docstore.Filter{}, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}

	for _, v := range splitList(c.Query("type")) {
		t, err := fiscal.ParseDocumentType(v)
		if err != nil {
			return bad(err)
		}
		f.Types = append(f.Types, t)
	}
	for _, v := range splitList(c.Query("status")) {
		st, err := fiscal.ParseStatus(v)
		if err != nil {
			return bad(err)
		}
		f.Statuses = append(f.Statuses, st)
	}
	from, to, err := docstore.ParseDayRange(c.Query("from"), c.Query("to"))
	if err != nil {
		return bad(err)
	}
	f.DateFrom, f.DateTo = from, to
	f.Text = c.Query("q")
	f.Fuzzy = c.Query("fuzzy") == "true"

	sort, err := docstore.ParseSort(c.Query("sort"))
	if err != nil {
		return bad(err)
	}
	f.Sort = sort

	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return bad(fmt.Errorf("invalid offset %q", v))
		}
		f.Offset = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return bad(fmt.Errorf("invalid limit %q", v))
		}
		f.Limit = n
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func handleError(c *gin.Context, err error) {
	appErr := errors.MapError(err)
	c.JSON(appErr.Code, gin.H{"error": appErr.Message})
}
