package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/spf13/viper"

	signalr "github.com/xperiandri/SignalR-Server"
)

type chat struct {
	signalr.Hub
}

func (c *chat) OnConnected(connectionID string) {
	fmt.Printf("%s connected\n", connectionID)
	c.Groups().Add(connectionID, "chat")
}

func (c *chat) OnDisconnected(connectionID string) {
	fmt.Printf("%s disconnected\n", connectionID)
	c.Groups().Remove(connectionID, "chat")
}

func (c *chat) Send(message string) {
	c.Clients().Group("chat").Send("send", message)
}

func (c *chat) Echo(message string) {
	c.Clients().Caller().Send("send", message)
}

func (c *chat) Analyze(message string) (string, string, int) {
	return strings.ToUpper(message), strings.ToLower(message), len(message)
}

func (c *chat) Countdown(from int, progress *signalr.Progress) string {
	for i := from; i > 0; i-- {
		progress.Report(i)
		time.Sleep(time.Second)
	}
	return "liftoff"
}

func (c *chat) Clock() <-chan signalr.StreamEvent {
	events := make(chan signalr.StreamEvent)
	go func() {
		defer close(events)
		for i := 0; i < 10; i++ {
			events <- signalr.StreamEvent{Value: time.Now().Format(time.RFC3339)}
			time.Sleep(time.Second)
		}
	}()
	return events
}

func loadConfig() *viper.Viper {
	v := viper.New()
	v.SetConfigName("chatsample")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("chatsample")
	v.AutomaticEnv()
	v.SetDefault("address", "localhost:8086")
	v.SetDefault("debug", false)
	v.SetDefault("keepAliveInterval", "10s")
	v.SetDefault("disconnectTimeout", "30s")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("read config: %v", err)
		}
	}
	return v
}

func main() {
	config := loadConfig()
	server, err := signalr.NewServer(context.Background(),
		signalr.Logger(kitlog.NewLogfmtLogger(os.Stderr), config.GetBool("debug")),
		signalr.KeepAliveInterval(config.GetDuration("keepAliveInterval")),
		signalr.DisconnectTimeout(config.GetDuration("disconnectTimeout")),
		signalr.RegisterHub("chat", func() signalr.HubInterface { return &chat{} }),
	)
	if err != nil {
		log.Fatalf("create server: %v", err)
	}
	defer server.Close()

	mux := http.NewServeMux()
	server.MapHub(mux, "/chat")
	mux.Handle("/", http.FileServer(http.Dir("public")))

	address := config.GetString("address")
	fmt.Printf("listening on http://%s\n", address)
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Fatal(err)
	}
}
