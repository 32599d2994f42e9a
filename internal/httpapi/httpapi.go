package httpapi

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"shopstock/internal/domain"
	"shopstock/internal/lock"
	"shopstock/internal/logging"
	"shopstock/internal/metrics"
	"shopstock/internal/notify"
	"shopstock/internal/report"
	"shopstock/internal/service"
	"shopstock/internal/store"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 10 << 20
	actorKey      = "actor"
)

type Options struct {
	Service        *service.Service
	Auth           *AuthManager
	Hub            *notify.Hub
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	AllowedOrigin  string
	LoginRateLimit string
	Logger         logrus.FieldLogger
}

type API struct {
	service    *service.Service
	auth       *AuthManager
	hub        *notify.Hub
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	origin     string
	loginLimit *limiter.Limiter
	logger     logrus.FieldLogger
	router     *gin.Engine
}

var registerFieldNames sync.Once

func New(opts Options) (*API, error) {
	rate, err := limiter.NewRateFromFormatted(opts.LoginRateLimit)
	if err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	registerFieldNames.Do(func() {
		binding.EnableDecoderDisallowUnknownFields = true
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonFieldName)
		}
	})

	a := &API{
		service:    opts.Service,
		auth:       opts.Auth,
		hub:        opts.Hub,
		metrics:    opts.Metrics,
		gatherer:   opts.Gatherer,
		origin:     opts.AllowedOrigin,
		loginLimit: limiter.New(memory.NewStore(), rate),
		logger:     opts.Logger,
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), a.accessLog(), a.metrics.Middleware(), securityHeaders(), limitBody())
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if a.origin == "" || a.origin == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{a.origin}
	}
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", a.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.POST("/auth/login", a.handleLogin)
	api.GET("/events/ws", a.handleEvents)

	staff := api.Group("", a.requireAuth(RoleStaff, RoleAdmin))
	admin := api.Group("", a.requireAuth(RoleAdmin))

	staff.GET("/categories", a.handleListCategories)
	staff.GET("/categories/:id", a.handleGetCategory)
	admin.POST("/categories", a.handleCreateCategory)
	admin.PUT("/categories/:id", a.handleUpdateCategory)
	admin.DELETE("/categories/:id", a.handleDeleteCategory)

	staff.GET("/products", a.handleListProducts)
	staff.GET("/products/low-stock", a.handleLowStock)
	staff.GET("/products/barcode/:barcode", a.handleProductByBarcode)
	staff.GET("/products/:id", a.handleGetProduct)
	admin.POST("/products", a.handleCreateProduct)
	admin.POST("/products/import", a.handleImportProducts)
	admin.PUT("/products/:id", a.handleUpdateProduct)
	admin.DELETE("/products/:id", a.handleDeleteProduct)

	staff.GET("/combos", a.handleListCombos)
	staff.GET("/combos/:id", a.handleGetCombo)
	admin.POST("/combos", a.handleCreateCombo)
	admin.PUT("/combos/:id", a.handleUpdateCombo)
	admin.DELETE("/combos/:id", a.handleDeleteCombo)

	for _, kind := range []store.PartyKind{store.Vendors, store.Buyers} {
		path := "/" + string(kind)
		staff.GET(path, a.handleListParties(kind))
		staff.GET(path+"/:id", a.handleGetParty(kind))
		staff.POST(path, a.handleCreateParty(kind))
		staff.PUT(path+"/:id", a.handleUpdateParty(kind))
		admin.DELETE(path+"/:id", a.handleDeleteParty(kind))
	}

	admin.GET("/purchases", a.handleListPurchases)
	admin.GET("/purchases/:id", a.handleGetPurchase)
	admin.POST("/purchases", a.handleCreatePurchase)
	admin.PUT("/purchases/:id", a.handleUpdatePurchase)
	admin.DELETE("/purchases/:id", a.handleDeletePurchase)

	staff.GET("/sales", a.handleListSales)
	staff.POST("/sales/scan", a.handleScan)
	staff.GET("/sales/:id", a.handleGetSale)
	staff.POST("/sales", a.handleCreateSale)
	staff.PUT("/sales/:id", a.handleUpdateSale)
	admin.DELETE("/sales/:id", a.handleDeleteSale)

	staff.GET("/returns", a.handleListReturns)
	staff.GET("/returns/:id", a.handleGetReturn)
	staff.POST("/returns", a.handleCreateReturn)
	staff.PUT("/returns/:id", a.handleUpdateReturn)
	admin.DELETE("/returns/:id", a.handleDeleteReturn)

	staff.GET("/rto-products", a.handleListRTO)
	staff.GET("/rto-products/:id", a.handleGetRTO)
	staff.POST("/rto-products", a.handleAddRTO)
	admin.PATCH("/rto-products/:id/status", a.handleRTOStatus)
	admin.POST("/rto-products/:id/transfer", a.handleTransferRTO)
	admin.DELETE("/rto-products/:id", a.handleDeleteRTO)

	admin.GET("/reports/profit-loss", a.handleProfitLoss)
	admin.GET("/reports/profit-loss/export", a.handleExportProfitLoss)
	admin.POST("/reports/profit-loss/reconcile", a.handleReconcile)

	return r
}

func (a *API) requireAuth(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			abort(c, http.StatusUnauthorized, err.Error())
			return
		}
		if !isRoleAllowed(actor.Role, roles) {
			abort(c, http.StatusForbidden, "forbidden role")
			return
		}

		c.Set(actorKey, actor)
		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		entry := a.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(startedAt).String(),
			"ip":      c.ClientIP(),
		})
		if actor, ok := c.Get(actorKey); ok {
			entry = entry.WithField("actor", actor.(domain.Actor).Username)
		}
		entry.Info("request")
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// limitBody caps request bodies. Spreadsheet uploads get a larger allowance.
func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil {
			c.Next()
			return
		}
		limit := int64(maxJSONBody)
		if strings.HasPrefix(strings.ToLower(c.ContentType()), "multipart/") {
			limit = maxUploadBody
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(c *gin.Context) {
	limit, err := a.loginLimit.Get(c.Request.Context(), c.ClientIP())
	if err != nil {
		a.writeError(c, err)
		return
	}
	if limit.Reached {
		abort(c, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req domain.LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := a.auth.Login(req)
	if err != nil {
		abort(c, http.StatusUnauthorized, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleEvents authenticates through the token query parameter because
// browsers cannot set headers on WebSocket upgrades.
func (a *API) handleEvents(c *gin.Context) {
	if a.hub == nil {
		abort(c, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	if _, err := a.auth.ParseToken(c.Query("token")); err != nil {
		abort(c, http.StatusUnauthorized, err.Error())
		return
	}
	a.hub.ServeWS(c.Writer, c.Request)
}

// writeError maps service errors onto HTTP statuses. 5xx bodies never carry
// the underlying error.
func (a *API) writeError(c *gin.Context, err error) {
	var (
		stockErr *store.StockError
		verrs    validator.ValidationErrors
	)
	switch {
	case errors.As(err, &stockErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message":   err.Error(),
			"name":      stockErr.Name,
			"required":  stockErr.Required,
			"available": stockErr.Available,
		})
	case errors.As(err, &verrs):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message": "validation failed",
			"errors":  validationErrors(verrs),
		})
	case errors.Is(err, store.ErrNotFound):
		abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, domain.ErrInvalidSaleItem),
		errors.Is(err, report.ErrInvalidSheet):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrInUse),
		errors.Is(err, lock.ErrBusy):
		abort(c, http.StatusConflict, err.Error())
	default:
		logging.LogError(a.logger, "httpapi", "writeError", c.Request.Method+" "+c.FullPath(), nil, err)
		abort(c, http.StatusInternalServerError, "internal server error")
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// bindJSON decodes and validates the body, writing the 400 response itself
// when it returns false.
func bindJSON(c *gin.Context, dest any) bool {
	err := c.ShouldBindJSON(dest)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message": "validation failed",
			"errors":  validationErrors(verrs),
		})
		return false
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		abort(c, http.StatusBadRequest, "request body too large")
		return false
	}
	abort(c, http.StatusBadRequest, "invalid request body: "+err.Error())
	return false
}

func validationErrors(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = fe.Tag()
	}
	return fields
}

// fieldPath drops the top-level struct name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}
