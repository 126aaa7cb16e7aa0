// Command example exercises the public API against a running grid cluster:
// opening a session, putting and reading a value, and registering a
// key-targeted listener.
package main

import (
	"context"
	"log"
	"time"

	grid "github.com/gridkv/grid-go-client"
	"github.com/gridkv/grid-go-client/internal/sessionconfig"
)

type printListener struct{}

func (printListener) EntryInserted(e grid.Event) { log.Printf("inserted: %+v", e) }
func (printListener) EntryUpdated(e grid.Event)  { log.Printf("updated: %+v", e) }
func (printListener) EntryDeleted(e grid.Event)  { log.Printf("deleted: %+v", e) }

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := grid.Open(ctx,
		sessionconfig.WithAddress("localhost:1408"),
		sessionconfig.WithRequestTimeout(5*time.Second),
	)
	if err != nil {
		log.Fatalf("open session: %v", err)
	}
	defer session.Close(context.Background())

	orders, err := session.Map("orders")
	if err != nil {
		log.Fatalf("open map: %v", err)
	}

	var listener printListener
	if err := orders.AddMapListener(ctx, listener, "order-1", false, grid.WithPriming()); err != nil {
		log.Fatalf("add listener: %v", err)
	}
	defer orders.RemoveMapListener(context.Background(), listener, "order-1")

	if _, err := orders.Put(ctx, "order-1", map[string]interface{}{"status": "placed"}); err != nil {
		log.Fatalf("put: %v", err)
	}

	value, err := orders.Get(ctx, "order-1")
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	log.Printf("order-1 = %v", value)

	keys, err := orders.KeySet(ctx)
	if err != nil {
		log.Fatalf("keySet: %v", err)
	}
	for keys.Next() {
		log.Printf("key: %v", keys.Key())
	}
	if err := keys.Err(); err != nil {
		log.Fatalf("keySet stream: %v", err)
	}
}
