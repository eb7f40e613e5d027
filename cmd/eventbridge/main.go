// Command eventbridge re-exposes a comclerk server's SSE event stream
// over WebSocket, for frontends that cannot consume SSE directly.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/m4xw311/comclerk/client"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", ":8080", "Address to serve WebSocket clients on")
	server := flag.String("server", "http://localhost:4096", "comclerk server base URL")
	flag.Parse()

	c := client.New(*server)
	http.HandleFunc("/ws", handleWS(c))

	fmt.Printf("WebSocket bridge running on ws://%s/ws (upstream %s)\n", *addr, *server)
	log.Fatal(http.ListenAndServe(*addr, nil))
}

func handleWS(c *client.Client) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Upgrade error:", err)
			return
		}
		defer conn.Close()

		sessionID := r.URL.Query().Get("sessionID")
		events, err := c.Events(r.Context(), sessionID)
		if err != nil {
			log.Println("Event subscription error:", err)
			return
		}

		// Drain client messages so pings and close frames are handled.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				log.Println("WS write error:", err)
				return
			}
		}
	}
}
