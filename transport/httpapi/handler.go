package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/xweb/core"
	"github.com/hupe1980/xweb/logging"
)

// Route paths.
const (
	ServicePath = "/xtext-service"
	SessionPath = "/xtext-session"
	HealthPath  = "/healthz"
)

// DefaultCookieName is the session cookie used when Options.CookieName is
// empty.
const DefaultCookieName = "xweb-session"

// paramAliases maps alternative parameter names accepted from clients to
// the canonical request keys.
var paramAliases = map[string]string{
	"resource":        core.ParamResourceID,
	"requiredStateId": core.ParamRequiredStateVersion,
}

// Dispatcher is the part of dispatch.Dispatcher the handler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, params map[string]string) core.Response
	RemoveSession(id string) bool
}

// Options configures a Handler.
type Options struct {
	// CookieName names the session cookie. Defaults to DefaultCookieName.
	CookieName string

	// RequestTimeout bounds each dispatch. Zero means no bound beyond the
	// client connection.
	RequestTimeout time.Duration

	// ServiceName is reported by the tracing middleware.
	ServiceName string

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// NewSessionID issues ids for new sessions. Defaults to random UUIDs.
	NewSessionID func() string

	// Logger defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Handler serves the HTTP API. It implements http.Handler.
type Handler struct {
	dispatcher   Dispatcher
	router       *gin.Engine
	cookieName   string
	timeout      time.Duration
	newSessionID func() string
	logger       logging.Logger
}

// compile-time assertion
var _ http.Handler = (*Handler)(nil)

// New creates a Handler serving d.
func New(d Dispatcher, optFns ...func(o *Options)) *Handler {
	opts := Options{
		CookieName:   DefaultCookieName,
		ServiceName:  "xweb",
		NewSessionID: uuid.NewString,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}

	h := &Handler{
		dispatcher:   d,
		cookieName:   opts.CookieName,
		timeout:      opts.RequestTimeout,
		newSessionID: opts.NewSessionID,
		logger:       logging.OrNoOp(opts.Logger),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName, otelgin.WithTracerProvider(opts.TracerProvider)))

	service := router.Group(ServicePath)
	service.GET("/:serviceType", h.serve)
	service.POST("/:serviceType", h.serve)
	service.PUT("/:serviceType", h.serve)

	router.DELETE(SessionPath, h.deleteSession)
	router.GET(HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h.router = router
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) serve(c *gin.Context) {
	params, err := requestParams(c)
	if err != nil {
		resp := core.Failure(core.WrapError(core.KindInvalidRequest, "malformed request parameters", err))
		c.JSON(StatusCode(resp), resp)
		return
	}

	params[core.ParamServiceType] = c.Param("serviceType")
	params[core.ParamSessionID] = h.sessionID(c)

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	resp := h.dispatcher.Dispatch(ctx, params)
	if !resp.IsOK() {
		h.logger.Debug("http.dispatch.failed",
			"path", c.FullPath(),
			"service", params[core.ParamServiceType],
			"kind", resp.Kind,
			"message", resp.Message,
		)
	}
	c.JSON(StatusCode(resp), resp)
}

func (h *Handler) deleteSession(c *gin.Context) {
	id, err := c.Cookie(h.cookieName)
	if err != nil || id == "" {
		c.Status(http.StatusNoContent)
		return
	}

	removed := h.dispatcher.RemoveSession(id)
	h.logger.Info("http.session.deleted", "session_id", id, "removed", removed)

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

// sessionID returns the session id carried by the cookie and issues a new
// one when there is none.
func (h *Handler) sessionID(c *gin.Context) string {
	if id, err := c.Cookie(h.cookieName); err == nil && id != "" {
		return id
	}
	id := h.newSessionID()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, id, 0, "/", "", false, true)
	h.logger.Debug("http.session.issued", "session_id", id)
	return id
}

// requestParams flattens query and form values into request parameters.
// The first value of a repeated key wins. Aliased names are mapped to their
// canonical key unless the canonical key is present too.
func requestParams(c *gin.Context) (map[string]string, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}

	params := make(map[string]string, len(c.Request.Form))
	for k, vs := range c.Request.Form {
		if len(vs) == 0 || strings.TrimSpace(k) == "" {
			continue
		}
		params[k] = vs[0]
	}

	for alias, canonical := range paramAliases {
		v, ok := params[alias]
		if !ok {
			continue
		}
		delete(params, alias)
		if _, exists := params[canonical]; !exists {
			params[canonical] = v
		}
	}

	// The session is owned by the cookie.
	delete(params, core.ParamSessionID)

	return params, nil
}

// StatusCode maps a response to its HTTP status.
func StatusCode(resp core.Response) int {
	if resp.IsOK() {
		return http.StatusOK
	}
	switch resp.Kind {
	case core.KindInvalidRequest:
		return http.StatusBadRequest
	case core.KindResourceNotFound:
		return http.StatusNotFound
	case core.KindStaleState, core.KindCancelled:
		return http.StatusConflict
	case core.KindServiceFailure:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
