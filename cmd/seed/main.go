// Command seed populates the configured record store with demo users and posts.
package main

import (
	"context"
	"flag"
	"log"

	"postboard/internal/config"
	"postboard/internal/middleware"
	"postboard/internal/repository"
	"postboard/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 10, "Number of users to create")
	numPosts := flag.Int("posts", 50, "Number of posts to create")
	fakerSeed := flag.Int64("seed", 0, "Faker seed (0 picks a random one)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	middleware.ConfigureLogger(cfg.Env, cfg.LogLevel)

	store, err := repository.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer func() { _ = store.Close() }()

	log.Printf("Target: %d users, %d posts (driver=%s)", *numUsers, *numPosts, cfg.StoreDriver)

	if _, err := seed.Run(context.Background(), store, seed.Options{
		Users: *numUsers,
		Posts: *numPosts,
		Seed:  *fakerSeed,
	}); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("All seeded users have the password: %s", seed.DefaultPassword)
}
