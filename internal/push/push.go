// Package push delivers high-priority screener Alerts to subscribed mobile
// clients through Firebase Cloud Messaging. Grounded on the teacher's
// PushService: same credentials-file bootstrap, same buffered worker
// channel absorbing FCM send latency off the screener's hot path, the
// queue generalized from whale-notional alerts to the co-pilot's own
// Alert kinds.
package push

import (
	"context"
	"fmt"
	"log"
	"os"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"

	"tradecopilot/internal/types"
)

// Message is one queued FCM notification.
type Message struct {
	Topic string
	Title string
	Body  string
	Data  map[string]string
}

// Service holds the FCM client and the worker's send queue.
type Service struct {
	client *messaging.Client
	queue  chan Message
}

// New bootstraps the Firebase app from credFile; returns nil (push
// disabled) if the credentials file is absent, matching the teacher's
// stance that a missing optional credential is not fatal.
func New(credFile string) *Service {
	if _, err := os.Stat(credFile); os.IsNotExist(err) {
		log.Println("push: credentials file not found, push notifications disabled")
		return nil
	}

	opt := option.WithCredentialsFile(credFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		log.Printf("push: failed to init firebase app: %v", err)
		return nil
	}
	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("push: failed to get messaging client: %v", err)
		return nil
	}

	log.Println("push: FCM service initialized")
	return &Service{client: client, queue: make(chan Message, 500)}
}

// Run drains the send queue until ctx is cancelled, sending one FCM
// message at a time so the worker's own throughput bounds outbound rate.
func (s *Service) Run(ctx context.Context) {
	log.Println("push: worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			fcm := &messaging.Message{
				Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
				Data:         msg.Data,
				Topic:        msg.Topic,
			}
			if id, err := s.client.Send(ctx, fcm); err != nil {
				log.Printf("push: send error: %v", err)
			} else {
				log.Printf("push: sent %s (id=%s)", msg.Body, id)
			}
		}
	}
}

// NotifyAlert queues a push for a screener Alert that crossed a
// significant threshold, dropping (rather than blocking) on a full
// queue so a push backlog never stalls the screener.
func (s *Service) NotifyAlert(a types.Alert) {
	if s == nil || s.client == nil {
		return
	}

	select {
	case s.queue <- Message{
		Topic: "screener_alerts",
		Title: fmt.Sprintf("%s alert", a.Symbol),
		Body:  fmt.Sprintf("%s crossed %s at %.2f", a.Symbol, a.Kind, a.TriggerPrice),
		Data: map[string]string{
			"symbol": a.Symbol,
			"kind":   string(a.Kind),
			"price":  fmt.Sprintf("%f", a.TriggerPrice),
		},
	}:
	default:
		log.Println("push: queue full, dropping alert push")
	}
}

// NotifySignal queues a push for a classifier Signal that cleared the
// sticky filter and was displayed to the user.
func (s *Service) NotifySignal(sig types.Signal) {
	if s == nil || s.client == nil || !sig.Displayed {
		return
	}

	select {
	case s.queue <- Message{
		Topic: "signals",
		Title: fmt.Sprintf("%s %s signal", sig.Symbol, sig.Classifier),
		Body:  fmt.Sprintf("%d stars, grade %d, %s", sig.Stars, sig.Grade, sig.Direction),
		Data: map[string]string{
			"symbol":     sig.Symbol,
			"classifier": string(sig.Classifier),
			"direction":  string(sig.Direction),
		},
	}:
	default:
		log.Println("push: queue full, dropping signal push")
	}
}
