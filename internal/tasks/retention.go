package tasks

import (
	"context"
	"log"
	"time"

	"chat-service/internal/repository"

	"github.com/robfig/cron/v3"
)

// RetentionSweeper prunes aged public messages nightly. Private history is
// never touched: it is the only delivery channel for offline recipients.
type RetentionSweeper struct {
	repo repository.MessageRepo
	days int
}

func NewRetentionSweeper(repo repository.MessageRepo, days int) *RetentionSweeper {
	return &RetentionSweeper{
		repo: repo,
		days: days,
	}
}

func (t *RetentionSweeper) Start() {
	if t.days <= 0 {
		log.Println("[WORKER] Retention disabled (RETENTION_DAYS=0)")
		return
	}

	c := cron.New()

	_, err := c.AddFunc("0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		cutoff := time.Now().AddDate(0, 0, -t.days)
		pruned, err := t.repo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			log.Printf("[WORKER] Retention sweep failed: %v", err)
			return
		}
		log.Printf("[WORKER] Retention sweep pruned %d public messages older than %s", pruned, cutoff.Format(time.RFC3339))
	})
	if err != nil {
		log.Printf("[WORKER] Error scheduling cron: %v", err)
		return
	}

	c.Start()
}
