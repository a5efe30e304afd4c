// Command storage-init provisions the tables, queues and indexes the task
// API expects. It is safe to run repeatedly.
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		db := os.Getenv("MONGODB_DATABASE")
		if db == "" {
			db = "taskboard"
		}
		coll := os.Getenv("MONGODB_COLLECTION")
		if coll == "" {
			coll = "tasks"
		}
		// connecting creates the collection indexes
		st, err := storage.NewMongoStore(ctx, uri, db, coll)
		if err != nil {
			log.Fatalf("mongo: %v", err)
		}
		if err := st.Close(ctx); err != nil {
			log.Warnf("mongo close: %v", err)
		}
		log.WithFields(log.Fields{"database": db, "collection": coll}).Info("mongo indexes ready")
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Info("STORAGE_CONNECTION_STRING not set; skipping tables and queues")
		return
	}

	tasksTable := os.Getenv("TASKS_TABLE")
	if tasksTable == "" {
		tasksTable = "tasks"
	}
	if err := storage.CreateTables(ctx, connStr, []string{tasksTable}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := storage.CreateQueues(ctx, connStr, []string{os.Getenv("EVENTS_QUEUE")}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.Info("storage init complete")
}
