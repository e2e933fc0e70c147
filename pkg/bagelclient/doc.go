// Package bagelclient provides the primary entry point for constructing a
// BagelDB client that implements the bagel.Client interface.
//
// It wires configuration, the HTTP transports, the session token cache, the
// request pipeline and the live stream reconnector on top of the types defined
// in the bagel package. Most applications import bagelclient to build a
// client, then use the returned client for everything else.
//
// Quick start
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/bageldb/libraries/pkg/bagel"
//	  "github.com/bageldb/libraries/pkg/bagelclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//
//	  // Minimal: a project API token and the public endpoints.
//	  cli, err := bagelclient.NewWithToken(ctx, "project-token")
//	  if err != nil { log.Fatal(err) }
//
//	  // Log a user in. Content requests now carry the user's access token
//	  // and refresh it transparently.
//	  _, err = cli.Users().ValidateCredentials(ctx, "jane@example.com", "secret")
//	  if err != nil { log.Fatal(err) }
//
//	  resp, err := cli.Get(ctx, "/collection/articles/items", nil)
//	  if err != nil { log.Fatal(err) }
//	  _ = resp
//
//	  // Subscribe to live changes.
//	  sub, err := cli.Listen(ctx, bagel.Collection("articles"),
//	    func(ev bagel.Event) { log.Println(ev.Data) },
//	    func(err error) { log.Println(err) },
//	  )
//	  if err != nil { log.Fatal(err) }
//	  defer sub.Close()
//	}
//
// # Execution context
//
// Config.Context tells the client what kind of host it runs in. In the
// browser and react-native contexts a stored user id makes a session active.
// In the server context the static API token is always used, since one
// process serves many users.
//
// # Session storage
//
// Config.Store persists the session. The default keeps it in memory for the
// lifetime of the process. NewFileStore persists it to disk. NewKVStore and
// NewRedisStore share it between processes through a NATS JetStream
// key-value bucket or a Redis hash.
//
// # Helpers
//
// The package also provides the convenience constructors NewWithToken and
// NewServer for the common configurations.
package bagelclient
