package prefs_test

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seatwise/synckit/cache"
	"github.com/seatwise/synckit/prefs"
	"github.com/seatwise/synckit/store"
)

type staticBackend struct{ doc json.RawMessage }

func (b staticBackend) GetPreferences(ctx context.Context) (json.RawMessage, error) {
	return b.doc, nil
}

func (b staticBackend) UpdatePreferences(ctx context.Context, doc any) error {
	return nil
}

func ExampleManager_Get() {
	m := prefs.NewManager(prefs.Config{
		Cache:   cache.NewManager(store.NewMemoryStore()),
		Backend: staticBackend{doc: json.RawMessage(`{"ui":{"theme":"light"}}`)},
	})
	defer m.Close()
	ctx := context.Background()

	m.Initialize(ctx, false)

	theme, _ := m.Get("ui.theme")
	fmt.Println("Theme:", theme)

	// Writes are visible immediately, before any network sync
	_ = m.Set(ctx, "ui.theme", "dark")
	theme, _ = m.Get("ui.theme")
	fmt.Println("Theme:", theme)
	// Output:
	// Theme: light
	// Theme: dark
}

func ExampleDocument() {
	doc := prefs.Document{
		UI: prefs.UISettings{Theme: prefs.String("dark")},
		Notifications: prefs.NotificationSettings{
			Email: prefs.Bool(true),
			Extra: map[string]any{"quietHours": "22:00-08:00"},
		},
	}

	b, _ := json.Marshal(doc)
	fmt.Println(string(b))
	// Output:
	// {"notifications":{"email":true,"quietHours":"22:00-08:00"},"ui":{"theme":"dark"}}
}
