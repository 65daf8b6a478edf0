// seed fills the local dev database with schedule entries and recurring
// tasks for one account. Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/gateway"
	"github.com/ErlanBelekov/schedule-engine/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
)

const seedAccount = "seed-account"

type entrySpec struct {
	title     string
	startHour int
	startMin  int
	minutes   int
}

// Design review and 1:1 overlap on purpose.
var entries = []entrySpec{
	{"Standup", 9, 0, 15},
	{"Design review", 10, 0, 60},
	{"1:1", 10, 30, 30},
	{"Lunch", 12, 0, 60},
	{"Focus block", 14, 0, 120},
}

var events = []string{
	`{"type":"recurrence.created","source_module":"reminder","source_entity_id":"seed-rem-1","recurrence_spec":{"kind":"DAILY","hour":8,"minute":0}}`,
	`{"type":"recurrence.created","source_module":"reminder","source_entity_id":"seed-rem-2","recurrence_spec":{"kind":"EVERY_N_MINUTES","n":5}}`,
	`{"type":"recurrence.created","source_module":"goal","source_entity_id":"seed-goal-1","recurrence_spec":{"kind":"WEEKLY","weekday":1,"hour":9,"minute":30}}`,
	`{"type":"recurrence.created","source_module":"notification","source_entity_id":"seed-notif-1","recurrence_spec":{"kind":"MONTHLY","day":1,"hour":7,"minute":0},"task":{"timezone":"Europe/Berlin"}}`,
	`{"type":"recurrence.created","source_module":"task","source_entity_id":"seed-task-1","recurrence_spec":{"kind":"RAW_CRON","expression":"*/15 9-17 * * 1-5"}}`,

	// Webhook tasks: one succeeds, one fails and exhausts its retries.
	`{"type":"recurrence.created","source_module":"task","source_entity_id":"seed-hook-1","recurrence_spec":{"kind":"EVERY_N_MINUTES","n":2},"payload":{"url":"https://httpbin.org/post","method":"POST"},"task":{"task_type":"webhook"}}`,
	`{"type":"recurrence.created","source_module":"task","source_entity_id":"seed-hook-2","recurrence_spec":{"kind":"EVERY_N_MINUTES","n":3},"payload":{"url":"https://httpbin.org/status/500","method":"POST"},"task":{"task_type":"webhook","max_retries":2}}`,
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set, run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL, 2)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	schedules := postgres.NewScheduleRepository(pool, quiet)
	tasks := postgres.NewTaskRepository(pool)

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	for _, spec := range entries {
		start := day.Add(time.Duration(spec.startHour)*time.Hour + time.Duration(spec.startMin)*time.Minute)
		now := time.Now().UTC()
		_, err := schedules.Create(ctx, &domain.ScheduleEntry{
			AccountID: seedAccount,
			Title:     spec.title,
			StartTime: start,
			EndTime:   start.Add(time.Duration(spec.minutes) * time.Minute),
			Duration:  spec.minutes,
			Active:    true,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}, repository.AnyAccountVersion)
		if err != nil {
			log.Fatalf("create entry %q: %v", spec.title, err)
		}
	}

	// Re-running reschedules the same tasks rather than duplicating them.
	gw := gateway.New(tasks, "UTC", quiet)
	var taskIDs []string
	for _, raw := range events {
		ev, err := gateway.DecodeEvent([]byte(raw))
		if err != nil {
			log.Fatalf("decode event: %v", err)
		}
		ev.AccountID = seedAccount
		t, err := gw.HandleRecurrenceEvent(ctx, ev)
		if err != nil {
			log.Fatalf("seed %s/%s: %v", ev.SourceModule, ev.SourceEntityID, err)
		}
		taskIDs = append(taskIDs, t.ID)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Account:      %s\n", seedAccount)
	fmt.Printf("  Entries:      %d on %s\n", len(entries), day.Format(time.DateOnly))
	fmt.Printf("  Tasks:        %d\n", len(taskIDs))
	fmt.Println()
	fmt.Println("  Task IDs:")
	for _, id := range taskIDs {
		fmt.Printf("    %s\n", id)
	}

	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Sign an HS256 JWT with JWT_SECRET, sub=" + seedAccount + " and an exp claim, then:")
	fmt.Println()
	fmt.Println("    export JWT=eyJ...")
	fmt.Println("    curl -s http://localhost:8080/schedules -H \"Authorization: Bearer $JWT\"")
	fmt.Println("    curl -s http://localhost:8080/tasks -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  Check overlaps around the 10:00 review:")
	fmt.Println()
	fmt.Printf("    curl -s -X POST http://localhost:8080/schedules/conflicts -H \"Authorization: Bearer $JWT\" \\\n")
	fmt.Printf("      -d '{\"start_time\":%d,\"end_time\":%d}'\n",
		day.Add(10*time.Hour).UnixMilli(), day.Add(11*time.Hour).UnixMilli())
	fmt.Println()
	fmt.Println("  Executions appear under /tasks/TASK_ID/executions once cmd/scheduler runs.")
}
