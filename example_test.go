package synckit_test

import (
	"context"
	"log"
	"time"

	"github.com/seatwise/synckit"
	"github.com/seatwise/synckit/config"
)

// ExampleNew wires the SDK for a desktop box-office client.
func ExampleNew() {
	cfg := config.Default()
	cfg.APIBaseURL = "https://api.seatwise.example"
	cfg.DatabasePath = "seatwise.db"
	cfg.EnableCacheBroadcast = true
	cfg.KeepaliveInterval = 5 * time.Minute

	ctx := context.Background()
	kit, err := synckit.New(ctx, cfg, synckit.SessionCallbacks{
		OnExpired: func() { log.Println("session expired, back to login") },
		OnWarning: func(remaining time.Duration) {
			log.Printf("session expires in %s", remaining)
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer kit.Close(ctx)

	kit.Start(ctx)

	if err := kit.Login(ctx, "ops@venue", "secret"); err != nil {
		log.Fatal(err)
	}

	// Preference writes are local-first; the network sync is debounced.
	_ = kit.Prefs.Set(ctx, "ui.theme", "dark")
}
