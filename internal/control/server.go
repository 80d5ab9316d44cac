package control

import (
	"context"
	"errors"
	"fmt"
	logger "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/core/txerror"
	"github.com/vietddude/chainscan/internal/indexing/health"
	"github.com/vietddude/chainscan/internal/infra/chain"
	"github.com/vietddude/chainscan/internal/infra/storage"
)

// Server exposes the engine over HTTP.
type Server struct {
	engine  *Engine
	monitor *health.Monitor
	router  *gin.Engine
	server  *http.Server
	log     logger.Logger
}

// NewServer creates the HTTP server. monitor may be nil.
func NewServer(engine *Engine, monitor *health.Monitor, port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:  engine,
		monitor: monitor,
		router:  gin.New(),
		log:     *logger.Default(),
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}

	s.router.Use(s.recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		chains := v1.Group("/chains/:chain")
		chains.GET("/balance/:address", s.handleBalance)
		chains.GET("/transactions/:address", s.handleTransactions)
		chains.POST("/pending", s.handleTrack)
		chains.POST("/pending/reconcile", s.handleReconcile)
		chains.POST("/pending/reset", s.handleReset)

		v1.POST("/errors/translate", s.handleTranslate)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("Panic recovered", "panic", r, "path", c.Request.URL.Path)
				s.writeError(c, fmt.Errorf("panic: %v", r))
				c.Abort()
			}
		}()
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func currencyFrom(c *gin.Context) domain.CurrencyContext {
	return domain.CurrencyContext{
		Chain:   domain.ChainID(c.Param("chain")),
		Network: c.Query("network"),
		Asset:   c.Query("asset"),
	}
}

// GET /v1/chains/:chain/balance/:address
func (s *Server) handleBalance(c *gin.Context) {
	rec, err := s.engine.GetBalance(c.Request.Context(), c.Param("address"), currencyFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if rec == nil {
		s.writeError(c, status.Error(codes.NotFound, "no balance record"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GET /v1/chains/:chain/transactions/:address
func (s *Server) handleTransactions(c *gin.Context) {
	scan := domain.ScanContext{
		CurrencyContext: currencyFrom(c),
		Address:         c.Param("address"),
	}
	if raw := c.Query("scan_time"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(c, status.Error(codes.InvalidArgument, "scan_time must be RFC3339"))
			return
		}
		scan.ScanTime = ts
	}

	txs, err := s.engine.GetTransactions(c.Request.Context(), scan)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

type trackRequest struct {
	Hash    string `json:"hash" binding:"required"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
}

// POST /v1/chains/:chain/pending
func (s *Server) handleTrack(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, status.Error(codes.InvalidArgument, "hash is required"))
		return
	}
	cc := domain.CurrencyContext{Chain: domain.ChainID(c.Param("chain")), Network: req.Network, Asset: req.Asset}
	id, err := s.engine.TrackTransaction(c.Request.Context(), cc, req.Hash)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// POST /v1/chains/:chain/pending/reconcile
func (s *Server) handleReconcile(c *gin.Context) {
	scan := domain.ScanContext{CurrencyContext: currencyFrom(c)}

	confirmed, err := s.engine.ReconcilePending(c.Request.Context(), scan)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"confirmed": confirmed,
		"state":     s.engine.PendingState(scan.CurrencyContext).String(),
	})
}

// POST /v1/chains/:chain/pending/reset
func (s *Server) handleReset(c *gin.Context) {
	cc := currencyFrom(c)
	s.engine.ResetPending(cc.Chain)
	c.JSON(http.StatusOK, gin.H{"state": s.engine.PendingState(cc).String()})
}

type translateRequest struct {
	Chain        string `json:"chain"`
	Message      string `json:"message" binding:"required"`
	From         string `json:"from"`
	To           string `json:"to"`
	Amount       string `json:"amount"`
	Native       bool   `json:"native"`
	ReplaceByFee bool   `json:"replace_by_fee"`
}

// POST /v1/errors/translate
func (s *Server) handleTranslate(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, status.Error(codes.InvalidArgument, "message is required"))
		return
	}
	amount := decimal.Zero
	if req.Amount != "" {
		d, err := decimal.NewFromString(req.Amount)
		if err != nil {
			s.writeError(c, status.Error(codes.InvalidArgument, "amount must be a decimal"))
			return
		}
		amount = d
	}

	translated := s.engine.TranslateError(errors.New(req.Message), txerror.TxContext{
		Chain:        domain.ChainID(req.Chain),
		From:         req.From,
		To:           req.To,
		Amount:       amount,
		Native:       req.Native,
		ReplaceByFee: req.ReplaceByFee,
	})
	code, ok := txerror.CodeOf(translated)
	c.JSON(http.StatusOK, gin.H{"translated": ok, "code": code})
}

// GET /health
func (s *Server) handleHealth(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy})
		return
	}
	report := health.Aggregate(s.monitor.CheckHealth(c.Request.Context()))
	code := http.StatusOK
	if report.SystemStatus == health.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// statusOf maps engine errors onto gRPC statuses.
func statusOf(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	switch {
	case errors.Is(err, chain.ErrInvalidAddress):
		return status.New(codes.InvalidArgument, "invalid address")
	case errors.Is(err, chain.ErrUnknownChain):
		return status.New(codes.NotFound, "unknown chain")
	case errors.Is(err, chain.ErrUnknownNetwork):
		return status.New(codes.NotFound, "unknown network")
	case errors.Is(err, chain.ErrUnsupportedFamily), errors.Is(err, ErrReceiptsUnsupported):
		return status.New(codes.Unimplemented, "not supported for this chain")
	case errors.Is(err, storage.ErrNotFound):
		return status.New(codes.NotFound, "transaction not found")
	}
	return txerror.ToStatus(err)
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DataLoss:
		return http.StatusBadGateway
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	}
	return http.StatusInternalServerError
}

// writeError renders err as the protojson form of its gRPC status.
func (s *Server) writeError(c *gin.Context, err error) {
	st := statusOf(err)
	if st.Code() == codes.Internal {
		s.log.Error("Request failed", "path", c.Request.URL.Path, "error", err)
	}
	body, merr := txerror.MarshalStatus(st)
	if merr != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(httpStatus(st.Code()), "application/json", body)
}
