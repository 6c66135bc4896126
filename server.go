package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/ahjam-taoufik/gestion-stock-backend/models"
	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func idParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps model-layer errors onto HTTP statuses. Unknown errors are
// reported as 400 rather than 500: nearly everything coming out of the model
// layer at this point is a rejected input.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorAlreadyValidated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func registerRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.GET("/products", func(c *gin.Context) {
		products, err := models.GetProducts(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, products)
	})
	api.GET("/products/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		product, err := models.GetProduct(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	})
	api.POST("/products", func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	})
	api.PUT("/products/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := models.UpdateProduct(c.Request.Context(), id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	})
	api.POST("/products/:id/deactivate", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		product, err := models.DeactivateProduct(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	})

	api.GET("/clients", func(c *gin.Context) {
		clients, err := models.GetClients(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, clients)
	})
	api.GET("/clients/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		client, err := models.GetClient(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, client)
	})
	api.POST("/clients", func(c *gin.Context) {
		var input models.NewClient
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		client, err := models.CreateClient(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, client)
	})
	api.PUT("/clients/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var input models.NewClient
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		client, err := models.UpdateClient(c.Request.Context(), id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, client)
	})

	registerReceiptRoutes(api)
	registerDeliveryRoutes(api)
	registerCreditNoteRoutes(api)
	registerStockRoutes(api)
}

func registerReceiptRoutes(api *gin.RouterGroup) {
	api.GET("/receipts", func(c *gin.Context) {
		receipts, err := models.GetReceipts(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipts)
	})
	api.GET("/receipts/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		receipt, err := models.GetReceipt(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	})
	api.POST("/receipts", func(c *gin.Context) {
		var input models.NewReceipt
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		receipt, err := models.CreateReceipt(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, receipt)
	})
	api.PUT("/receipts/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var input models.NewReceipt
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		receipt, err := models.UpdateReceipt(c.Request.Context(), id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	})
	api.DELETE("/receipts/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		receipt, err := models.DeleteReceipt(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	})
	api.POST("/receipts/:id/restore", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		receipt, err := models.RestoreReceipt(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	})
	api.DELETE("/receipts/:id/purge", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		receipt, err := models.DestroyReceipt(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	})
}

func registerDeliveryRoutes(api *gin.RouterGroup) {
	api.GET("/deliveries", func(c *gin.Context) {
		deliveries, err := models.GetDeliveries(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, deliveries)
	})
	api.GET("/deliveries/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		delivery, err := models.GetDelivery(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, delivery)
	})
	api.POST("/deliveries", func(c *gin.Context) {
		var input models.NewDelivery
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		delivery, err := models.CreateDelivery(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, delivery)
	})
	api.PUT("/deliveries/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var input models.NewDelivery
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		delivery, err := models.UpdateDelivery(c.Request.Context(), id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, delivery)
	})
	api.DELETE("/deliveries/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		delivery, err := models.DeleteDelivery(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, delivery)
	})
	api.POST("/deliveries/:id/restore", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		delivery, err := models.RestoreDelivery(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, delivery)
	})
	api.DELETE("/deliveries/:id/purge", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		delivery, err := models.DestroyDelivery(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, delivery)
	})
	api.POST("/deliveries/:id/recalculate", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		delivery, err := models.RecalculateDeliveryTotals(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, delivery)
	})
}

func registerCreditNoteRoutes(api *gin.RouterGroup) {
	api.GET("/credit-notes", func(c *gin.Context) {
		notes, err := models.GetCreditNotes(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, notes)
	})
	api.GET("/credit-notes/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		note, err := models.GetCreditNote(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, note)
	})
	api.POST("/credit-notes", func(c *gin.Context) {
		var input models.NewCreditNote
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		note, err := models.CreateCreditNote(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, note)
	})
	api.PUT("/credit-notes/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var input models.NewCreditNote
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		note, err := models.UpdateCreditNote(c.Request.Context(), id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, note)
	})
	api.POST("/credit-notes/:id/validate", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var body struct {
			Comment string `json:"comment"`
		}
		// body is optional; an empty comment is fine
		_ = c.ShouldBindJSON(&body)
		note, err := models.ValidateCreditNote(c.Request.Context(), id, body.Comment)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, note)
	})
	api.DELETE("/credit-notes/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		note, err := models.DeleteCreditNote(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, note)
	})
	api.POST("/credit-notes/:id/restore", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		note, err := models.RestoreCreditNote(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, note)
	})
	api.DELETE("/credit-notes/:id/purge", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		note, err := models.DestroyCreditNote(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, note)
	})
}

func registerStockRoutes(api *gin.RouterGroup) {
	api.GET("/stock/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		entry, err := models.GetStockLedgerEntry(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	})
	api.GET("/stock-alerts", func(c *gin.Context) {
		entries, err := models.GetLowStockEntries(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})
	api.PUT("/stock/:id/thresholds", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var body struct {
			MinThreshold decimal.Decimal `json:"min_threshold"`
			MaxThreshold decimal.Decimal `json:"max_threshold"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entry, err := models.UpdateStockThresholds(c.Request.Context(), id, body.MinThreshold, body.MaxThreshold)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Reject malformed delivery numbers at the binding layer as well as in
	// the model validation.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("delivery_number", func(fl validator.FieldLevel) bool {
			return models.IsValidDeliveryNumber(fl.Field().String())
		})
	}

	// Start the HTTP server before the DB is up; app endpoints return 503
	// until dependencies are ready.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())

	registerRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run blocking DDL; allow running migrations as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
