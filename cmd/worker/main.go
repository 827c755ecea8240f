package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presensi/internal/attendance"
	"presensi/internal/config"
	"presensi/internal/punctuality"
	"presensi/internal/queue"
	"presensi/internal/store"
)

// Worker maintains daily recap counters from queue messages and sweeps
// missed schedule slots into absent records.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presensi:attendance")
	}

	repo := attendance.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	sweep := time.NewTicker(cfg.SweepInterval)
	defer sweep.Stop()

	log.Println("worker started, waiting for messages...")
	for {
		select {
		case <-ctx.Done():
			log.Println("worker stopped")
			return
		case msg, ok := <-messages:
			if !ok {
				log.Println("queue channel closed")
				return
			}
			if msg.Type != queue.TypeRecorded {
				continue
			}
			log.Printf("recap %s: record %s (%s)", msg.Date, msg.RecordID, msg.Status)
			bumpRecap(ctx, redisClient, msg.Date, msg.Status)
		case <-sweep.C:
			sweepAbsences(ctx, repo, redisClient)
		}
	}
}

// bumpRecap increments the per-day status counter hash.
func bumpRecap(ctx context.Context, r *store.Redis, date, status string) {
	if r == nil || r.Client == nil {
		return
	}
	key := "presensi:recap:" + date
	if err := r.Client.HIncrBy(ctx, key, status, 1).Err(); err != nil {
		log.Printf("recap increment failed for %s: %v", key, err)
		return
	}
	// Keep recap hashes around long enough for weekly reporting.
	r.Client.Expire(ctx, key, 8*24*time.Hour)
}

// sweepAbsences backfills absent records for yesterday's slots that
// never saw a check-in.
func sweepAbsences(ctx context.Context, repo *attendance.Repository, r *store.Redis) {
	yesterday := time.Now().AddDate(0, 0, -1)
	date := yesterday.Format("2006-01-02")

	missed, err := repo.MissedSlots(ctx, date, yesterday.Weekday())
	if err != nil {
		log.Printf("absent sweep failed for %s: %v", date, err)
		return
	}
	if len(missed) == 0 {
		log.Printf("absent sweep for %s: nothing missed", date)
		return
	}

	inserted := 0
	for _, m := range missed {
		// The anti-join and this insert are not atomic; a check-in landing
		// in between must win.
		if exists, err := repo.Exists(ctx, m.ScheduleID, date); err != nil || exists {
			continue
		}
		if _, err := repo.InsertAbsent(ctx, m.ScheduleID, m.TeacherID, date); err != nil {
			log.Printf("insert absent failed (schedule %s): %v", m.ScheduleID, err)
			continue
		}
		inserted++
		bumpRecap(ctx, r, date, string(punctuality.StatusAbsent))
	}
	log.Printf("absent sweep for %s: %d of %d recorded", date, inserted, len(missed))
}
