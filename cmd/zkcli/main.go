// Command zkcli runs a scripted tour of the client against the
// in-memory driver: recursive creates, watches, a forced session expiry
// with automatic reconnect, and an ephemeral-preserving prune.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/mikekulinski/zkclient/pkg/client"
	"github.com/mikekulinski/zkclient/pkg/logging"
	"github.com/mikekulinski/zkclient/pkg/zk"
	"github.com/mikekulinski/zkclient/pkg/zk/zktest"
)

func main() {
	ctx := context.Background()
	driver := zktest.New()

	c, err := client.New(driver, client.Options{
		Ensemble:        "zk1:2181,zk2:2181,zk3:2181",
		ConnectWait:     5 * time.Second,
		AutoReconnect:   true,
		RelayDriverLogs: true,
		Logger:          logging.New(logging.DebugLevel, os.Stdout),
	})
	if err != nil {
		log.Fatal("new client:", err)
	}
	if err := c.Connect(); err != nil {
		log.Fatal("connect:", err)
	}
	defer c.Close()
	if err := c.WaitUntilConnected(ctx); err != nil {
		log.Fatal("waiting for session:", err)
	}
	log.Printf("connected, session %d", c.SessionID())

	remove := c.OnStateChange(func(s client.SessionState) {
		log.Printf("session state: %s", s)
	})
	defer remove()

	if err := c.CreateRecursive(ctx, "/zoo/giraffe", []byte("tall")); err != nil {
		log.Fatal("create:", err)
	}
	if _, err := c.Create(ctx, "/zoo/visitor", nil, zk.FlagEphemeral, nil); err != nil {
		log.Fatal("create ephemeral:", err)
	}

	data, stat, err := c.GetW(ctx, "/zoo/giraffe", func(ev zk.Event) {
		log.Printf("watch fired: %s", ev)
	})
	if err != nil {
		log.Fatal("get:", err)
	}
	log.Printf("read %q at version %d", data, stat.Version)

	if _, err := c.Set(ctx, "/zoo/giraffe", []byte("taller"), stat.Version); err != nil {
		log.Fatal("set:", err)
	}

	// Kill the session server-side; AutoReconnect brings up a new one
	// and the ephemeral visitor is gone.
	driver.ExpireSession()
	for driver.SessionCount() < 2 || c.State() != client.StateConnected {
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("reconnected, session %d", c.SessionID())

	if err := c.Prune(ctx, "/zoo", client.PruneOptions{DryRun: true}); err != nil {
		log.Fatal("prune:", err)
	}
	if err := c.Prune(ctx, "/zoo", client.PruneOptions{}); err != nil {
		log.Fatal("prune:", err)
	}
}
