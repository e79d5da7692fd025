// Package socketclient provides the WebSocket side of a client session.
//
// Client implements session.Duplex[[]byte] over a gorilla/websocket
// connection. Inbound frames are appended to a FIFO queue by a read
// goroutine; Receive hands them out in order.
//
// # Receive semantics
//
//   - A queued message is returned immediately.
//   - With an empty queue and a closed socket, Receive fails with
//     ErrDisconnected without waiting.
//   - Otherwise the caller waits for the next frame. At most one wait is
//     outstanding: concurrent callers share it and all observe the same
//     message. Callers that need one message per call must serialize.
//   - When the socket closes, an outstanding wait fails with ErrDisconnected.
//
// # Endpoint
//
// The URL is built from Config as protocol//host/path. An empty Protocol is
// derived from the Origin scheme (ws: for http, wss: otherwise), an empty
// Host from the Origin host, and an empty Path defaults to "ws".
//
// Basic Usage
//
//	cfg := socketclient.DefaultConfig()
//	cfg.Host = "localhost:8936"
//	conn, err := socketclient.NewClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tr := transport.NewJSON()
//	tr.Hosts(demo.BoardType)
//
//	client := session.NewClient[[]byte](conn, tr, "")
//	board, err := client.Open(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(board.ID())
//
//	// Blocks until the host disconnects.
//	if err := client.Handle(ctx); err != nil {
//	    log.Fatal(err)
//	}
package socketclient
