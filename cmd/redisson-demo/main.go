// Command redisson-demo wires the pgnotify reference backend adapter into
// a redisson.Service and exercises it: it subscribes to a channel, logs
// the first payload it receives, and publishes one payload back through the
// same broker so a single process can be watched end to end.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elakian/redisson"
	"github.com/elakian/redisson/pgnotify"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("Set DATABASE_URL (e.g. postgres://postgres@localhost:5432/postgres?sslmode=disable)")
	}

	// Validate the DSN quickly, the same sanity check the ssepg demo runs
	// before touching the broker.
	if _, err := pgxpool.ParseConfig(dsn); err != nil {
		log.Fatalf("bad DATABASE_URL: %v", err)
	}

	cfg := pgnotify.DefaultConfig()
	cfg.DSN = dsn

	broker := pgnotify.NewBroker(cfg)
	defer broker.Shutdown()

	svc := redisson.NewService(broker, broker, redisson.DefaultConfig())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	channel := redisson.Channel("redisson-demo.greetings")

	received := make(chan string, 8)
	listener := redisson.NewListener(
		redisson.StatusListenerFunc(func(kind redisson.SubscriptionKind, ch redisson.ChannelName) bool {
			log.Printf("ack: %s %s", kind, ch.String())
			return true
		}),
		messageListenerFunc(func(ch redisson.ChannelName, data []byte) {
			received <- string(data)
		}),
	)

	entry, err := svc.Subscribe(ctx, nil, channel, listener).Wait(ctx)
	if err != nil {
		log.Fatalf("subscribe failed: %v", err)
	}
	log.Printf("subscribed on connection %s, %d free slots remaining", entry.ID, entry.FreeSlots())

	if err := broker.Publish(ctx, channel, []byte(`"hello from redisson-demo"`)); err != nil {
		log.Printf("publish failed: %v", err)
	}

	select {
	case payload := <-received:
		log.Printf("received: %s", payload)
	case <-time.After(5 * time.Second):
		log.Println("timed out waiting for the demo message")
	case <-ctx.Done():
		return
	}

	<-ctx.Done()
	log.Println("shutting down")
}

type messageListenerFunc func(channel redisson.ChannelName, data []byte)

func (f messageListenerFunc) OnMessage(channel redisson.ChannelName, data []byte) {
	f(channel, data)
}
