package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sas-billing-api/api/swagger"
	"github.com/noah-isme/sas-billing-api/internal/handler"
	"github.com/noah-isme/sas-billing-api/internal/middleware"
	"github.com/noah-isme/sas-billing-api/internal/models"
	"github.com/noah-isme/sas-billing-api/internal/repository"
	"github.com/noah-isme/sas-billing-api/internal/service"
	"github.com/noah-isme/sas-billing-api/pkg/cache"
	"github.com/noah-isme/sas-billing-api/pkg/config"
	"github.com/noah-isme/sas-billing-api/pkg/database"
	"github.com/noah-isme/sas-billing-api/pkg/jobs"
	"github.com/noah-isme/sas-billing-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sas-billing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sas-billing-api/pkg/middleware/requestid"
	"github.com/noah-isme/sas-billing-api/pkg/scheduler"
)

// @title SAS Billing API
// @version 1.0.0
// @description School enrollment and billing consistency service
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	cacheSvc := service.NewCacheService(nil, metricsSvc, cfg.Dashboard.CacheTTL, logr, false)
	if cfg.Dashboard.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, dashboard cache disabled")
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, true)
		}
	}

	userRepo := repository.NewUserRepository(db)
	yearRepo := repository.NewAcademicYearRepository(db)
	termRepo := repository.NewTermRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	classRepo := repository.NewClassRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	tariffRepo := repository.NewTariffRepository(db)
	billRepo := repository.NewBillRepository(db)
	atomicRepo := repository.NewAtomic(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "sas-billing-api",
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	periodSvc := service.NewPeriodService(yearRepo, termRepo, validate, logr)
	gradeSvc := service.NewGradeService(gradeRepo, validate, logr)
	classSvc := service.NewClassService(classRepo, gradeRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, classRepo, gradeRepo, validate, logr)
	tariffSvc := service.NewTariffService(tariffRepo, classRepo, validate, logr)
	billingSvc := service.NewBillingService(billRepo, tariffRepo, studentRepo, studentRepo, periodSvc, metricsSvc, cfg.Billing.DueDays, validate, logr)
	coordinatorSvc := service.NewEnrollmentBillingService(atomicRepo, billingSvc, enrollmentSvc, studentRepo, logr)
	dashboardSvc := service.NewDashboardService(billRepo, cacheSvc, logr, service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := jobs.NewQueue("billing", billingSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Jobs.WorkerConcurrency,
		MaxRetries: cfg.Jobs.WorkerRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	})
	billingSvc.AttachQueue(queue)
	queue.Start(rootCtx)
	defer queue.Stop()

	if cfg.Billing.SweepEnabled {
		sched := scheduler.New(scheduler.Config{Logger: logr})
		if err := sched.Register("overdue-sweep", cfg.Billing.SweepSchedule, func(ctx context.Context) error {
			_, err := billingSvc.MarkOverdue(ctx)
			return err
		}); err != nil {
			logr.Sugar().Fatalw("failed to register overdue sweep", "error", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	yearHandler := handler.NewAcademicYearHandler(periodSvc)
	termHandler := handler.NewTermHandler(periodSvc)
	gradeHandler := handler.NewGradeHandler(gradeSvc)
	classHandler := handler.NewClassHandler(classSvc, tariffSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	tariffHandler := handler.NewTariffHandler(tariffSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, coordinatorSvc)
	billHandler := handler.NewBillHandler(billingSvc, dashboardSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	auth := api.Group("", middleware.JWT(authSvc))
	auth.POST("/auth/logout", authHandler.Logout)
	auth.POST("/auth/change-password", authHandler.ChangePassword)
	auth.GET("/auth/me", authHandler.Me)

	auth.GET("/metrics/summary", metricsHandler.Snapshot)

	admin := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	bursar := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleBursar)

	users := auth.Group("/users", middleware.RequireRoles(models.RoleSuperAdmin))
	users.GET("", userHandler.List)
	users.GET("/:id", userHandler.Get)
	users.POST("", userHandler.Create)
	users.PUT("/:id", userHandler.Update)
	users.DELETE("/:id", userHandler.Delete)

	years := auth.Group("/academic-years")
	years.GET("", yearHandler.List)
	years.GET("/:id", yearHandler.Get)
	years.POST("", admin, yearHandler.Create)
	years.PUT("/:id", admin, yearHandler.Update)
	years.POST("/:id/activate", admin, yearHandler.Activate)
	years.POST("/:id/close", admin, yearHandler.Close)
	years.DELETE("/:id", admin, yearHandler.Delete)

	auth.GET("/periods/current", yearHandler.Current)

	terms := auth.Group("/terms")
	terms.GET("", termHandler.List)
	terms.GET("/:id", termHandler.Get)
	terms.POST("", admin, termHandler.Create)
	terms.PUT("/:id", admin, termHandler.Update)
	terms.POST("/:id/activate", admin, termHandler.Activate)
	terms.POST("/:id/complete", admin, termHandler.Complete)
	terms.DELETE("/:id", admin, termHandler.Delete)

	grades := auth.Group("/grades")
	grades.GET("", gradeHandler.List)
	grades.GET("/:id", gradeHandler.Get)
	grades.POST("", admin, gradeHandler.Create)
	grades.PUT("/:id", admin, gradeHandler.Update)
	grades.DELETE("/:id", admin, gradeHandler.Delete)

	classes := auth.Group("/classes")
	classes.GET("", classHandler.List)
	classes.GET("/:id", classHandler.Get)
	classes.POST("", admin, classHandler.Create)
	classes.PUT("/:id", admin, classHandler.Update)
	classes.DELETE("/:id", admin, classHandler.Delete)
	classes.GET("/:id/tariffs", classHandler.ListTariffs)
	classes.PUT("/:id/tariffs/:tariffId", admin, classHandler.AttachTariff)
	classes.DELETE("/:id/tariffs/:tariffId", admin, classHandler.DetachTariff)

	students := auth.Group("/students")
	students.GET("", studentHandler.List)
	students.GET("/:id", studentHandler.Get)
	students.POST("", admin, studentHandler.Create)
	students.PUT("/:id", admin, studentHandler.Update)
	students.DELETE("/:id", admin, studentHandler.Delete)

	tariffs := auth.Group("/tariffs")
	tariffs.GET("", tariffHandler.List)
	tariffs.GET("/:id", tariffHandler.Get)
	tariffs.POST("", admin, tariffHandler.Create)
	tariffs.PUT("/:id", admin, tariffHandler.Update)
	tariffs.DELETE("/:id", admin, tariffHandler.Delete)

	enrollments := auth.Group("/enrollments", admin)
	enrollments.POST("/assign", enrollmentHandler.Assign)
	enrollments.POST("/assign-and-bill", enrollmentHandler.AssignAndBill)
	enrollments.DELETE("/:studentId", enrollmentHandler.Remove)
	enrollments.POST("/:studentId/transfer", enrollmentHandler.Transfer)
	enrollments.POST("/:studentId/transfer-and-bill", enrollmentHandler.TransferAndBill)
	enrollments.POST("/:studentId/promote", enrollmentHandler.Promote)
	enrollments.POST("/:studentId/promote-and-bill", enrollmentHandler.PromoteAndBill)
	enrollments.POST("/:studentId/graduate", enrollmentHandler.Graduate)
	enrollments.POST("/:studentId/deactivate", enrollmentHandler.Deactivate)
	enrollments.POST("/:studentId/mark-transferred", enrollmentHandler.MarkTransferred)
	enrollments.POST("/classes/:classId/reconcile", enrollmentHandler.Reconcile)

	bills := auth.Group("/bills", bursar)
	bills.GET("", billHandler.List)
	bills.GET("/:id", billHandler.Get)
	bills.POST("/students/:studentId", billHandler.Generate)
	bills.POST("/classes/:classId", billHandler.GenerateForClass)
	bills.GET("/:id/payments", billHandler.ListPayments)
	bills.POST("/:id/payments", billHandler.RecordPayment)
	bills.POST("/:id/payments/reverse", billHandler.ReversePayment)
	bills.POST("/:id/items/:itemId/payments", billHandler.RecordItemPayment)
	bills.POST("/:id/discount", billHandler.ApplyDiscount)
	bills.POST("/:id/cancel", billHandler.Cancel)
	bills.POST("/:id/notes", billHandler.AppendNote)
	bills.POST("/overdue/sweep", billHandler.MarkOverdue)

	auth.GET("/dashboard/billing", bursar, dashboardHandler.Billing)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
