// Package main provides a stress testing tool for the chat WebSocket gateway.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// Metrics tracks the test results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	MessagesReceived     int64
	Errors               int64
}

var metrics Metrics

// frame mirrors the gateway's JSON frame.
type frame struct {
	Command     string          `json:"command"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Receipt     string          `json:"receipt,omitempty"`
	Message     string          `json:"message,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func main() {
	host := flag.String("host", "localhost:8080", "API server host")
	email := flag.String("email", "", "Test user email (a seeded user)")
	password := flag.String("password", "Password123!", "Test user password")
	chatID := flag.Uint("chat", 0, "Chat to load (0 = first chat of the user)")
	clients := flag.Int("clients", 50, "Number of concurrent clients")
	interval := flag.Duration("interval", 5*time.Second, "Send interval per client")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	flag.Parse()

	if *email == "" {
		log.Fatal("❌ -email is required")
	}

	log.Printf("🚀 Starting Chat Stress Test")
	log.Printf("Target: %s", *host)
	log.Printf("Clients: %d", *clients)
	log.Printf("Duration: %v", *duration)

	token, err := login(*host, *email, *password)
	if err != nil {
		log.Fatalf("❌ Login failed: %v", err)
	}
	log.Printf("✅ Logged in successfully")

	target := *chatID
	if target == 0 {
		target, err = firstChat(*host, token)
		if err != nil {
			log.Fatalf("❌ No chat to load: %v", err)
		}
	}
	log.Printf("💬 Loading chat %d", target)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runClient(*host, token, target, i, *interval, stopChan, &wg)
		time.Sleep(50 * time.Millisecond) // stagger ticket issuance
	}

	select {
	case <-time.After(*duration):
		log.Println("⏱️  Test duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func apiRequest(method, rawURL, token string, payload, out any) error {
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s failed with status %d", method, rawURL, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func login(host, email, password string) (string, error) {
	var result struct {
		AccessToken string `json:"access_token"`
	}
	err := apiRequest(http.MethodPost, fmt.Sprintf("http://%s/api/auth/login", host), "",
		map[string]string{"email": email, "password": password}, &result)
	if err != nil {
		return "", err
	}
	return result.AccessToken, nil
}

func firstChat(host, token string) (uint, error) {
	var chats []struct {
		ID uint `json:"id"`
	}
	if err := apiRequest(http.MethodGet, fmt.Sprintf("http://%s/api/chats", host), token, nil, &chats); err != nil {
		return 0, err
	}
	if len(chats) == 0 {
		return 0, errors.New("user has no chats")
	}
	return chats[0].ID, nil
}

func getTicket(host, token string) (string, error) {
	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := apiRequest(http.MethodPost, fmt.Sprintf("http://%s/api/ws/ticket", host), token, nil, &result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

func sendMessage(host, token string, chatID uint, content string) error {
	return apiRequest(http.MethodPost, fmt.Sprintf("http://%s/api/chats/%d/messages", host, chatID), token,
		map[string]string{"type": "TEXT", "content": content}, nil)
}

func runClient(host, token string, chatID uint, id int, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	ticket, err := getTicket(host, token)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/ws", RawQuery: "ticket=" + url.QueryEscape(ticket)}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	var writeMu sync.Mutex
	write := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return c.WriteJSON(f)
	}

	dest := fmt.Sprintf("/topic/chat.%d.messages", chatID)
	if err := write(frame{Command: "SUBSCRIBE", ID: fmt.Sprintf("sub-%d", id), Destination: dest}); err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	go func() {
		for {
			var f frame
			if err := c.ReadJSON(&f); err != nil {
				return
			}
			switch f.Command {
			case "MESSAGE":
				atomic.AddInt64(&metrics.MessagesReceived, 1)
			case "ERROR":
				atomic.AddInt64(&metrics.Errors, 1)
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	typing := fmt.Sprintf("/app/chat.%d.typing", chatID)
	for {
		select {
		case <-stopChan:
			_ = write(frame{Command: "DISCONNECT"})
			writeMu.Lock()
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
			return
		case <-ticker.C:
			if err := write(frame{Command: "SEND", Destination: typing, Body: json.RawMessage(`{"typing":true}`)}); err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				return
			}
			if err := sendMessage(host, token, chatID, fmt.Sprintf("Stress test message from client %d", id)); err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				continue
			}
			atomic.AddInt64(&metrics.MessagesSent, 1)
		}
	}
}

func printMetrics() {
	log.Println("\n📊 Test Results")
	log.Println("===============")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages Sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Messages Received: %d", atomic.LoadInt64(&metrics.MessagesReceived))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
