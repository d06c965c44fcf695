package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/library-management/internal/adapter/storage"
	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/core/service"
	"github.com/rl1809/library-management/internal/port"
)

const (
	redisAddr     = "localhost:6379"
	initialCopies = 20
	totalRequests = 50
)

type result struct {
	Store         string        `json:"store"`
	InitialCopies int           `json:"initialCopies"`
	TotalRequests int           `json:"totalRequests"`
	Successful    int32         `json:"successful"`
	Failed        int32         `json:"failed"`
	FinalCopies   int           `json:"finalCopies"`
	Duration      time.Duration `json:"durationNs"`
	Pass          bool          `json:"pass"`
}

func main() {
	ctx := context.Background()

	// Redis by default, in-process store with STRESS_STORE=memory
	var store port.Store
	storeName := "redis"
	if os.Getenv("STRESS_STORE") == "memory" {
		store, storeName = storage.NewMemoryAdapter(), "memory"
	} else {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		store = storage.NewRedisAdapter(rdb)
	}
	defer store.Close()

	// Seed a fresh book
	now := time.Now().UTC()
	book := domain.Book{
		ID:        uuid.NewString(),
		Title:     "Stress Test " + now.Format(time.RFC3339Nano),
		Author:    "Load Generator",
		Genre:     domain.GenreScience,
		ISBN:      uuid.NewString()[:13],
		CreatedAt: now,
		UpdatedAt: now,
	}
	book.SetCopies(initialCopies)
	if err := store.CreateBook(ctx, book); err != nil {
		log.Fatalf("failed to seed book: %v", err)
	}
	defer store.DeleteBook(ctx, book.ID)

	borrowService := service.NewBorrowService(store, store)

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent borrows
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := borrowService.Borrow(ctx, service.BorrowRequest{
				BookID:   book.ID,
				Quantity: 1,
				DueDate:  now.AddDate(0, 0, 14),
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	final, err := store.GetBook(ctx, book.ID)
	if err != nil || final == nil {
		log.Fatalf("failed to read book back: %v", err)
	}

	res := result{
		Store:         storeName,
		InitialCopies: initialCopies,
		TotalRequests: totalRequests,
		Successful:    successCount.Load(),
		Failed:        failCount.Load(),
		FinalCopies:   final.Copies,
		Duration:      elapsed,
	}
	res.Pass = res.Successful == initialCopies &&
		res.Failed == totalRequests-initialCopies &&
		res.FinalCopies == 0 && !final.Available

	fmt.Println("========== STRESS TEST RESULTS ==========")
	out, _ := jsoniter.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
	fmt.Println("==========================================")

	if !res.Pass {
		fmt.Printf("FAIL: Expected %d success/%d fail and 0 copies left\n",
			initialCopies, totalRequests-initialCopies)
		os.Exit(1)
	}
	fmt.Printf("PASS: Exactly %d borrows succeeded, %d failed\n", initialCopies, totalRequests-initialCopies)
}
