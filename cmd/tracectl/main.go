// Package main provides a terminal viewer for the tracelens server.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/xiaot623/gogo/tracelens/internal/hub"
	"github.com/xiaot623/gogo/tracelens/internal/viewer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to the viewer API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a viewer API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// fetchResponse mirrors the refresh and load_more response body.
type fetchResponse struct {
	Started bool         `json:"started"`
	Trace   viewer.Model `json:"trace"`
	Error   string       `json:"error,omitempty"`
}

// Trace returns the current projection.
func (c *Client) Trace(executionID string) (viewer.Model, error) {
	var m viewer.Model
	err := c.do(http.MethodGet, "/v1/executions/"+url.PathEscape(executionID)+"/trace", &m)
	return m, err
}

// Activate pins the execution on the server.
func (c *Client) Activate(executionID string) (viewer.Model, error) {
	var m viewer.Model
	err := c.do(http.MethodPost, "/v1/executions/"+url.PathEscape(executionID)+"/activate", &m)
	return m, err
}

// Fetch runs refresh or load_more and returns the resulting projection.
func (c *Client) Fetch(executionID, action string) (viewer.Model, error) {
	var resp fetchResponse
	err := c.do(http.MethodPost, "/v1/executions/"+url.PathEscape(executionID)+"/"+action, &resp)
	if err != nil && resp.Trace.ExecutionID == "" {
		return viewer.Model{}, err
	}
	if resp.Error != "" {
		return resp.Trace, fmt.Errorf("%s", resp.Error)
	}
	return resp.Trace, nil
}

func (c *Client) do(method, path string, out interface{}) error {
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(body, &e)
		json.Unmarshal(body, out)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return json.Unmarshal(body, out)
}

// wsURL turns the API base URL into the viewer socket URL.
func wsURL(baseURL, executionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	u.RawQuery = url.Values{"execution_id": {executionID}}.Encode()
	return u.String(), nil
}

// follow prints every projection and notification pushed for the execution.
func follow(conn *websocket.Conn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			return
		}

		var base hub.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			log.Printf("Unmarshal error: %v", err)
			continue
		}
		switch base.Type {
		case hub.TypeProjection:
			var msg hub.ProjectionMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				fmt.Println()
				renderModel(os.Stdout, msg.Trace)
			}
		case hub.TypeNotification:
			var msg hub.NotificationMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				errorColor.Printf("\n! %s\n", msg.Notification.Message)
			}
		case hub.TypeError:
			var msg hub.ErrorMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				errorColor.Printf("\nserver error: %s\n", msg.Message)
			}
		}
	}
}

func main() {
	addr := flag.String("addr", "http://localhost:8095", "tracelens server address")
	executionID := flag.String("execution", "", "execution ID to view")
	refresh := flag.Bool("refresh", false, "refresh before printing")
	watch := flag.Bool("follow", false, "follow live updates")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *executionID == "" {
		log.Fatal("-execution is required")
	}

	client := NewClient(*addr)

	model, err := client.Activate(*executionID)
	if err != nil {
		log.Fatalf("Activate failed: %v", err)
	}
	if *refresh {
		refreshed, err := client.Fetch(*executionID, "refresh")
		if err != nil {
			errorColor.Printf("refresh failed: %v\n", err)
		}
		if refreshed.ExecutionID != "" {
			model = refreshed
		}
	}
	renderModel(os.Stdout, model)

	if !*watch {
		return
	}

	target, err := wsURL(*addr, *executionID)
	if err != nil {
		log.Fatalf("Invalid address: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go follow(conn, done)

	fmt.Println("\nFollowing live updates.")
	fmt.Println("Commands: /refresh, /more, /switch <execution_id>, /quit")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	current := *executionID
	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case input, ok := <-lines:
			if !ok {
				return
			}
			switch {
			case input == "":
			case input == "/quit":
				fmt.Println("Bye!")
				return
			case input == "/refresh":
				if _, err := client.Fetch(current, "refresh"); err != nil {
					errorColor.Printf("refresh failed: %v\n", err)
				}
			case input == "/more":
				if _, err := client.Fetch(current, "load_more"); err != nil {
					errorColor.Printf("load more failed: %v\n", err)
				}
			case strings.HasPrefix(input, "/switch "):
				next := strings.TrimSpace(strings.TrimPrefix(input, "/switch "))
				if _, err := client.Activate(next); err != nil {
					errorColor.Printf("activate failed: %v\n", err)
					continue
				}
				current = next
				msg := hub.SubscribeMessage{BaseMessage: hub.BaseMessage{Type: hub.TypeSubscribe, Ts: time.Now().UnixMilli(), ExecutionID: next}}
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("Send error: %v", err)
				}
			default:
				fmt.Println("unknown command")
			}
		}
	}
}
