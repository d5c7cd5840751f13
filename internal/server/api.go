// ABOUTME: REST API over the survey versioning workflows
// ABOUTME: Maps workflow results and errors onto the tagged ok/reason JSON shape

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nainya/surveystore/internal/logger"
	"github.com/nainya/surveystore/internal/metrics"
	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/lineage"
	"github.com/nainya/surveystore/pkg/storage"
	"github.com/nainya/surveystore/pkg/version"
	"github.com/nainya/surveystore/pkg/writer"
)

// API serves the survey endpoints.
type API struct {
	writer   *writer.Writer
	store    storage.Store
	resolver *lineage.Resolver
	realtime http.Handler
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewAPI wires the handlers. realtime and m may be nil.
func NewAPI(w *writer.Writer, store storage.Store, resolver *lineage.Resolver, realtime http.Handler, log *logger.Logger, m *metrics.Metrics) *API {
	if resolver == nil {
		resolver = lineage.NewResolver()
	}
	return &API{
		writer:   w,
		store:    store,
		resolver: resolver,
		realtime: realtime,
		log:      log.HTTPLogger(),
		metrics:  m,
	}
}

// Router builds the gin engine with every route registered.
func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), a.observe())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "surveystore"})
	})

	v1 := router.Group("/api/v1")
	{
		surveys := v1.Group("/surveys")
		{
			surveys.POST("", a.publish)
			surveys.GET("", a.listFamilies)
			surveys.GET("/:id", a.getSurvey)
			surveys.DELETE("/:id", a.deleteSurvey)
			surveys.POST("/:id/versions", a.createVersion)
			surveys.POST("/:id/restore", a.restore)
			surveys.GET("/:id/history", a.history)
		}
		if a.realtime != nil {
			v1.GET("/realtime", gin.WrapH(a.realtime))
		}
	}
	return router
}

func (a *API) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()

		if a.metrics != nil {
			a.metrics.RecordHTTPRequest(c.Request.Method, route, status, elapsed)
		}
		a.log.LogHTTPRequest(c.Request.Method, route, status, elapsed)
	}
}

// Result is the tagged outcome of a write workflow.
type Result struct {
	OK           bool                `json:"ok"`
	DocumentID   string              `json:"documentId,omitempty"`
	Version      float64             `json:"version,omitempty"`
	VersionLabel string              `json:"versionLabel,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	FieldErrors  []writer.FieldError `json:"fieldErrors,omitempty"`
}

func okResult(res writer.Result) Result {
	return Result{
		OK:           true,
		DocumentID:   res.DocumentID,
		Version:      res.Version,
		VersionLabel: version.Format(res.Version),
	}
}

// fail writes the failure shape with a status chosen from the error kind.
func (a *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := Result{Reason: err.Error()}

	var (
		verr      *writer.ValidationError
		notFound  *writer.NotFoundError
		ambiguous *lineage.AmbiguousLatestError
	)
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		body.Reason = "validation failed"
		body.FieldErrors = verr.FieldErrors
	case errors.As(err, &notFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, lineage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, writer.ErrBranchConflict), errors.As(err, &ambiguous):
		status = http.StatusConflict
	case errors.Is(err, lineage.ErrTooDeep), errors.Is(err, lineage.ErrDanglingParent), errors.Is(err, lineage.ErrFamilyTooLarge),
		errors.Is(err, lineage.ErrFamilyMismatch):
		status = http.StatusUnprocessableEntity
	}

	if status >= http.StatusInternalServerError {
		a.log.Zerolog().Error().Err(err).Str("route", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, body)
}

type publishRequest struct {
	OrganizationID string `json:"organizationId"`
	document.Content
}

func (a *API) publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Result{Reason: "invalid request body: " + err.Error()})
		return
	}

	res, err := a.writer.Publish(c.Request.Context(), req.OrganizationID, req.Content)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, okResult(res))
}

type versionRequest struct {
	document.Content
	Major     bool   `json:"major"`
	Changelog string `json:"changelog"`
}

func (a *API) createVersion(c *gin.Context) {
	var req versionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Result{Reason: "invalid request body: " + err.Error()})
		return
	}

	res, err := a.writer.CreateNextVersion(c.Request.Context(), c.Param("id"), req.Content, req.Major, req.Changelog)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, okResult(res))
}

type restoreRequest struct {
	// OrganizationID scopes the restore. Documents of other organizations
	// are reported as not found.
	OrganizationID string `json:"organizationId"`
	// CurrentLatestID is the version the restore is appended to. When
	// empty the single tip of the family is used.
	CurrentLatestID string `json:"currentLatestId"`
}

func (a *API) restore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Result{Reason: "invalid request body: " + err.Error()})
		return
	}

	var (
		res writer.Result
		err error
	)
	if req.CurrentLatestID == "" {
		res, err = a.writer.RestoreToTip(c.Request.Context(), req.OrganizationID, c.Param("id"))
	} else {
		res, err = a.writer.Restore(c.Request.Context(), req.OrganizationID, c.Param("id"), req.CurrentLatestID)
	}
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, okResult(res))
}

func (a *API) deleteSurvey(c *gin.Context) {
	id := c.Param("id")
	if err := a.writer.Delete(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Result{OK: true, DocumentID: id})
}

type surveyResponse struct {
	*document.Document
	VersionLabel string               `json:"versionLabel"`
	Questions    []*document.Question `json:"questions"`
}

func (a *API) getSurvey(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := a.store.GetDocument(ctx, c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	questions, err := a.store.ListQuestions(ctx, doc.ID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, surveyResponse{
		Document:     doc,
		VersionLabel: version.Format(doc.Version),
		Questions:    questions,
	})
}

type historyEntry struct {
	ID           string    `json:"id"`
	ParentID     *string   `json:"parentId"`
	Version      float64   `json:"version"`
	VersionLabel string    `json:"versionLabel"`
	Title        string    `json:"title"`
	Changelog    string    `json:"changelog,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	IsLatest     bool      `json:"isLatest"`
}

func (a *API) history(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := a.store.GetDocument(ctx, c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	docs, err := a.store.ListDocuments(ctx, storage.DocumentFilter{OrganizationID: doc.OrganizationID})
	if err != nil {
		a.fail(c, err)
		return
	}

	family, err := a.resolver.History(doc.ID, docs)
	if err != nil {
		a.fail(c, err)
		return
	}

	entries := make([]historyEntry, len(family))
	for i, d := range family {
		entries[i] = historyEntry{
			ID:           d.ID,
			ParentID:     d.ParentID,
			Version:      d.Version,
			VersionLabel: version.Format(d.Version),
			Title:        d.Title,
			Changelog:    d.Changelog,
			CreatedAt:    d.CreatedAt,
			IsLatest:     lineage.IsLatest(d, family),
		}
	}
	c.JSON(http.StatusOK, gin.H{"documentId": doc.ID, "versions": entries})
}

type familySummary struct {
	RootID       string   `json:"rootId"`
	LatestID     string   `json:"latestId"`
	Title        string   `json:"title"`
	Version      float64  `json:"version"`
	VersionLabel string   `json:"versionLabel"`
	Versions     int      `json:"versions"`
	Branched     bool     `json:"branched"`
	Candidates   []string `json:"candidates,omitempty"`
}

func (a *API) listFamilies(c *gin.Context) {
	orgID := c.Query("organization_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, Result{Reason: "organization_id is required"})
		return
	}

	docs, err := a.store.ListDocuments(c.Request.Context(), storage.DocumentFilter{OrganizationID: orgID})
	if err != nil {
		a.fail(c, err)
		return
	}

	families, errs := a.resolver.Families(docs)
	out := make([]familySummary, 0, len(families))
	for _, f := range families {
		s := familySummary{
			RootID:       f.Root.ID,
			LatestID:     f.Latest.ID,
			Title:        f.Latest.Title,
			Version:      f.Latest.Version,
			VersionLabel: version.Format(f.Latest.Version),
			Versions:     f.Size,
			Branched:     f.Branched(),
		}
		if s.Branched {
			for _, cand := range f.Candidates {
				s.Candidates = append(s.Candidates, cand.ID)
			}
		}
		out = append(out, s)
	}

	problems := make([]string, len(errs))
	for i, e := range errs {
		problems[i] = e.Error()
	}
	if len(problems) > 0 {
		a.log.Zerolog().Warn().Strs("problems", problems).Str("organization_id", orgID).Msg("Skipped malformed lineages")
	}
	c.JSON(http.StatusOK, gin.H{"surveys": out, "problems": problems})
}
