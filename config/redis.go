package config

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// InitRedis connects to REDIS_URL. It returns nil when Redis is not configured
// or unreachable so callers fall back to in-process caching.
func InitRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("Warning: invalid REDIS_URL: %v", err)
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: redis unavailable, using in-process cache: %v", err)
		_ = client.Close()
		return nil
	}
	log.Println("Redis connected successfully")
	return client
}
