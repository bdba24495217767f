package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mktdigital/marketplace-backend/config"
	"github.com/mktdigital/marketplace-backend/controllers"
	"github.com/mktdigital/marketplace-backend/database"
	"github.com/mktdigital/marketplace-backend/gateway"
	appkafka "github.com/mktdigital/marketplace-backend/kafka"
	applogger "github.com/mktdigital/marketplace-backend/logger"
	"github.com/mktdigital/marketplace-backend/middleware"
	"github.com/mktdigital/marketplace-backend/models"
	awspkg "github.com/mktdigital/marketplace-backend/pkg/aws"
	"github.com/mktdigital/marketplace-backend/repository"
	"github.com/mktdigital/marketplace-backend/routes"
	"github.com/mktdigital/marketplace-backend/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[Marketplace] Failed to load config:", err)
	}

	ctx := context.Background()

	// CloudWatch shipping is optional; the logger falls back to console only.
	var cwWriter *awspkg.CloudWatchLogsClient
	if cw, err := awspkg.NewCloudWatchLogsClient(ctx, "marketplace-backend"); err != nil {
		log.Println("[Marketplace] CloudWatch logging unavailable:", err)
	} else if cw.IsEnabled() {
		cwWriter = cw
	}

	var logger *zap.Logger
	if cwWriter != nil {
		logger, err = applogger.Initialize(cfg.Env, cwWriter)
	} else {
		logger, err = applogger.Initialize(cfg.Env, nil)
	}
	if err != nil {
		log.Fatal("[Marketplace] Failed to initialize logger:", err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&models.Cart{}, &models.CartItem{},
		&models.PaymentSession{}, &models.PaymentResponse{},
		&models.Order{}, &models.OrderItem{},
	); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	// Redis backs the callback duplicate fast path; the service degrades to
	// database constraints without it.
	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, callback dedup falls back to database", zap.Error(err))
		redisClient = nil
	}

	producer := appkafka.NewPaymentEventProducer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic, logger)
	defer producer.Close()

	var snsClient awspkg.SNSPublisher
	if cfg.PaymentSNSTopicARN != "" {
		if awsCfg, err := awspkg.LoadAWSConfig(ctx); err != nil {
			logger.Warn("aws config unavailable, sns fan-out disabled", zap.Error(err))
		} else {
			snsClient = awspkg.NewSNSClient(awsCfg)
		}
	}

	sessionRepo := repository.NewGormSessionRepo(db)
	responseRepo := repository.NewGormPaymentResponseRepo(db)
	orderRepo := repository.NewGormOrderRepo(db)
	cartRepo := repository.NewGormCartRepo(db)

	builder := gateway.NewPayloadBuilder(cfg.Provider)
	paymentSvc := services.NewPaymentService(sessionRepo, cartRepo, builder, cfg.Provider, cfg.SessionTTL, logger)
	reconciler := services.NewReconciliationService(
		sessionRepo, responseRepo, orderRepo, cartRepo,
		redisClient, producer, snsClient, cfg.PaymentSNSTopicARN, logger,
	)
	orderSvc := services.NewOrderService(orderRepo, logger)

	go sweepSessions(ctx, sessionRepo, cfg.SweepInterval, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	pc := &controllers.PaymentController{
		Payments:   paymentSvc,
		Reconciler: reconciler,
		Sessions:   sessionRepo,
		Responses:  responseRepo,
		Logger:     logger,
	}
	cc := &controllers.CartController{Carts: cartRepo, Logger: logger}
	oc := &controllers.OrderController{Orders: orderSvc, Logger: logger}
	routes.Register(r, pc, cc, oc)

	logger.Info("marketplace backend running", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// sweepSessions physically removes expired payment sessions on an interval.
// Lookups already treat expired sessions as absent; the sweep just reclaims
// the rows.
func sweepSessions(ctx context.Context, sessions repository.SessionRepository, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := sessions.SweepExpired(ctx, time.Now())
			if err != nil {
				logger.Error("session sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Info("swept expired payment sessions", zap.Int64("count", count))
			}
		}
	}
}
