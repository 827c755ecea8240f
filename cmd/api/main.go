package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presensi/internal/attendance"
	"presensi/internal/auth"
	"presensi/internal/camera"
	"presensi/internal/capture"
	"presensi/internal/checkin"
	"presensi/internal/cloudinary"
	"presensi/internal/config"
	"presensi/internal/device"
	"presensi/internal/geo"
	"presensi/internal/httpmiddleware"
	"presensi/internal/queue"
	"presensi/internal/schedule"
	"presensi/internal/store"
)

// maxFrameBytes caps one uploaded preview frame.
const maxFrameBytes = 5 << 20

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	if db == nil {
		return errors.New("database handle could not be opened")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presensi:attendance")
	}

	schedules := schedule.NewRepository(db.Client)
	records := attendance.NewRepository(db.Client)

	var storage checkin.ObjectStorage
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		storage = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		storage = noStorage{}
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	gate := checkin.NewGate(storage, records)
	sessionCfg := checkin.Config{
		Target: geo.Target{Latitude: cfg.TargetLat, Longitude: cfg.TargetLon, RadiusMeters: cfg.RadiusMeters},
		Camera: camera.Config{
			AcquireWait:  cfg.CameraWait,
			BindAttempts: cfg.BindAttempts,
			BindBackoff:  cfg.BindBackoff,
		},
		PositionWait: cfg.PositionWait,
	}
	sessions := checkin.NewManager(cfg.SessionTTL)

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	defer janitorCancel()
	sessions.StartJanitor(janitorCtx, time.Minute)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Dev convenience only; real identity comes from an external provider.
	if gin.Mode() != gin.ReleaseMode {
		r.POST("/v1/tokens", func(c *gin.Context) {
			var req struct {
				TeacherID string `json:"teacher_id" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			tokens, err := auth.Issue(req.TeacherID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{
				"access_token":  tokens.AccessToken,
				"refresh_token": tokens.RefreshToken,
				"expires_at":    tokens.AccessExp.Unix(),
			})
		})
	}

	authGroup := r.Group("/v1", auth.TeacherAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.GET("/schedules/today", func(c *gin.Context) {
		teacherID, ok := auth.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no identity"})
			return
		}
		slots, err := schedules.ListSlotsFor(c.Request.Context(), teacherID, time.Now().Weekday())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"slots": slots})
	})

	authGroup.GET("/attendance", func(c *gin.Context) {
		teacherID, ok := auth.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no identity"})
			return
		}
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		recs, err := records.ListForTeacher(c.Request.Context(), teacherID, c.Query("from"), c.Query("to"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	getSession := func(c *gin.Context) (*checkin.Session, bool) {
		teacherID, ok := auth.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no identity"})
			return nil, false
		}
		s, ok := sessions.Get(c.Param("id"))
		if !ok || s.TeacherID != teacherID {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return nil, false
		}
		return s, true
	}

	authGroup.POST("/checkin/sessions", func(c *gin.Context) {
		teacherID, ok := auth.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no identity"})
			return
		}
		s := checkin.NewSession(teacherID, sessionCfg, gate)
		sessions.Put(s)
		s.Start()
		c.JSON(http.StatusCreated, s.Snapshot())
	})

	authGroup.GET("/checkin/sessions/:id", func(c *gin.Context) {
		if s, ok := getSession(c); ok {
			c.JSON(http.StatusOK, s.Snapshot())
		}
	})

	authGroup.POST("/checkin/sessions/:id/position", func(c *gin.Context) {
		s, ok := getSession(c)
		if !ok {
			return
		}
		var req struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			ErrorName string   `json:"error_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.ErrorName != "" {
			s.FailPosition(device.ClassifyPositionError(req.ErrorName))
			c.JSON(http.StatusAccepted, gin.H{"status": "failure recorded"})
			return
		}
		if req.Latitude == nil || req.Longitude == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude required"})
			return
		}
		s.DeliverPosition(device.Position{Latitude: *req.Latitude, Longitude: *req.Longitude})
		c.JSON(http.StatusAccepted, gin.H{"status": "position recorded"})
	})

	// One endpoint for both frames and acquisition failures, switched on
	// content type: an image body is a frame, a JSON body reports the
	// getUserMedia error name.
	authGroup.POST("/checkin/sessions/:id/frames", func(c *gin.Context) {
		s, ok := getSession(c)
		if !ok {
			return
		}
		if strings.Contains(c.ContentType(), "application/json") {
			var req struct {
				ErrorName string `json:"error_name" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			s.FailCamera(device.ClassifyCameraError(req.ErrorName))
			c.JSON(http.StatusAccepted, gin.H{"status": "failure recorded"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFrameBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read frame failed"})
			return
		}
		frame, _, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "frame is not a decodable image"})
			return
		}
		if err := s.DeliverFrame(frame); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "frame received"})
	})

	authGroup.POST("/checkin/sessions/:id/view", func(c *gin.Context) {
		s, ok := getSession(c)
		if !ok {
			return
		}
		s.MountView()
		c.JSON(http.StatusOK, gin.H{"status": "view mounted"})
	})

	authGroup.POST("/checkin/sessions/:id/slot", func(c *gin.Context) {
		s, ok := getSession(c)
		if !ok {
			return
		}
		var req struct {
			ScheduleID string `json:"schedule_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.ScheduleID == "" {
			s.SelectSlot(nil)
			c.JSON(http.StatusOK, gin.H{"status": "slot cleared"})
			return
		}
		slot, err := schedules.GetSlot(c.Request.Context(), req.ScheduleID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if slot == nil || slot.TeacherID != s.TeacherID {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule slot not found"})
			return
		}
		s.SelectSlot(slot)
		c.JSON(http.StatusOK, gin.H{"status": "slot selected", "slot": slot})
	})

	authGroup.POST("/checkin/sessions/:id/capture", func(c *gin.Context) {
		s, ok := getSession(c)
		if !ok {
			return
		}
		photo, err := s.Capture()
		if err != nil {
			if errors.Is(err, capture.ErrNotReady) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"preview": photo.PreviewDataURL, "bytes": len(photo.Payload)})
	})

	authGroup.POST("/checkin/sessions/:id/retake", func(c *gin.Context) {
		s, ok := getSession(c)
		if !ok {
			return
		}
		s.Retake()
		c.JSON(http.StatusOK, s.Snapshot())
	})

	authGroup.POST("/checkin/sessions/:id/submit", func(c *gin.Context) {
		s, ok := getSession(c)
		if !ok {
			return
		}
		rec, err := s.Submit(c.Request.Context())
		if err != nil {
			submitError(c, err)
			return
		}
		if err := q.Publish(c.Request.Context(), queue.Message{
			Type:     queue.TypeRecorded,
			RecordID: rec.ID,
			Status:   string(rec.Status),
			Date:     rec.Date,
		}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
		c.JSON(http.StatusCreated, gin.H{"record": rec})
	})

	authGroup.DELETE("/checkin/sessions/:id", func(c *gin.Context) {
		s, ok := getSession(c)
		if !ok {
			return
		}
		sessions.Remove(s.ID)
		c.JSON(http.StatusOK, gin.H{"status": "session closed"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// submitError maps the gate's error taxonomy onto specific responses; a
// known cause never collapses into a generic message.
func submitError(c *gin.Context, err error) {
	var perr *checkin.PreconditionError
	if errors.As(err, &perr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": perr.Error(), "missing": perr.Missing})
		return
	}
	var uerr *checkin.UploadError
	if errors.As(err, &uerr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": uerr.Error(), "retryable": true})
		return
	}
	var serr *checkin.PersistError
	if errors.As(err, &serr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": serr.Error(), "retryable": true})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// noStorage stands in when Cloudinary is not configured.
type noStorage struct{}

func (noStorage) Upload(context.Context, string, []byte) (string, error) {
	return "", errors.New("image storage not configured")
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
