package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/installengine/pkg/engine"
	"github.com/openfroyo/installengine/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Read demonstrates importing and reading a sequence table.
func ExampleSQLiteStore_Read() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	err := store.ImportTables(ctx, map[engine.TableKind][]engine.SequenceEntry{
		engine.TableExecute: {
			{Action: "InstallFinalize", Sequence: 6600},
			{Action: "CostInitialize", Sequence: 800},
			{Action: "InstallFiles", Sequence: 4000, Condition: "NOT REMOVE"},
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	for entry := range store.Read(ctx, engine.TableExecute) {
		fmt.Println(entry.Sequence, entry.Action)
	}
	// Output:
	// 800 CostInitialize
	// 4000 InstallFiles
	// 6600 InstallFinalize
}

// ExampleSQLiteStore_RecordRun demonstrates recording an install run.
func ExampleSQLiteStore_RecordRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	run := &stores.Run{
		ID:        "run-001",
		Product:   "Widget",
		Version:   "2.1.0",
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := store.RecordRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	// Complete the run
	now := time.Now()
	run.Status = stores.StatusFor(nil)
	run.Outcome = engine.OutcomeFor(nil).String()
	run.CompletedAt = &now
	if err := store.RecordRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	retrieved, err := store.GetRun(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Run ID: %s, Status: %s\n", retrieved.ID, retrieved.Status)
	// Output: Run ID: run-001, Status: completed
}
