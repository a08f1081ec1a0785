package network

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	ExchangeReadings    = "suncloud.readings"
	ExchangeTypeFanout  = "fanout"
	durable             = true
	deleteWhenUnused    = false
	internal            = false
	noWait              = false
	jsonContentType     = "application/json"
	startMaxElapsedTime = 2 * time.Minute
)

// Messaging is the broker connection used by the publisher.
type Messaging interface {
	Start() error
	Stop() error
	PublishPersistentMessage(exchange, exchangeType, key string, data interface{}, options *MessageOptions) error
}

// MessageOptions represents the message publishing options
type MessageOptions struct {
	MessageID  string
	Expiration string
	Headers    map[string]interface{}
}

type AMQP struct {
	url               string
	log               *logrus.Entry
	mu                sync.Mutex
	conn              *amqp.Connection
	channel           *amqp.Channel
	declaredExchanges map[string]struct{}
	stopped           bool
}

func NewAMQP(url string, log *logrus.Entry) *AMQP {
	return &AMQP{url: url, log: log, declaredExchanges: make(map[string]struct{})}
}

// Start connects with exponential backoff and keeps the connection alive.
func (a *AMQP) Start() error {
	startBackOff := backoff.NewExponentialBackOff()
	startBackOff.MaxElapsedTime = startMaxElapsedTime
	err := backoff.Retry(a.connect, startBackOff)
	if err != nil {
		return err
	}
	go a.notifyWhenClosed()
	return nil
}

func (a *AMQP) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	if a.channel != nil {
		_ = a.channel.Close()
		a.channel = nil
	}
	if a.conn != nil && !a.conn.IsClosed() {
		return a.conn.Close()
	}
	return nil
}

func (a *AMQP) PublishPersistentMessage(exchange, exchangeType, key string, data interface{}, options *MessageOptions) error {
	publishing := amqp.Publishing{
		ContentType:  jsonContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	if options != nil {
		publishing.MessageId = options.MessageID
		publishing.Expiration = options.Expiration
		publishing.Headers = options.Headers
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error enconding JSON message: %w", err)
	}
	publishing.Body = body

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel == nil {
		return fmt.Errorf("amqp channel is not open")
	}

	// Avoid redeclaring an exchange on every publish.
	if _, ok := a.declaredExchanges[exchange]; !ok {
		if err := a.declareExchange(exchange, exchangeType); err != nil {
			return fmt.Errorf("error declaring exchange: %w", err)
		}
		a.declaredExchanges[exchange] = struct{}{}
	}

	err = a.channel.Publish(
		exchange,
		key,
		false, // mandatory
		false, // immediate
		publishing,
	)
	if err != nil {
		return fmt.Errorf("error publishing message in channel: %w", err)
	}
	return nil
}

func (a *AMQP) notifyWhenClosed() {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	errReason := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if errReason == nil {
		return
	}
	a.log.Errorf("amqp connection closed: %v", errReason)

	reconnectionBackOff := backoff.NewExponentialBackOff()
	reconnectionBackOff.InitialInterval = 30 * time.Second
	reconnectionBackOff.MaxInterval = 5 * time.Minute
	reconnectionBackOff.Multiplier = 1.7
	// never stop trying
	reconnectionBackOff.MaxElapsedTime = 0

	reconnection := func() error {
		if a.isStopped() {
			return backoff.Permanent(fmt.Errorf("amqp stopped"))
		}
		err := a.connect()
		if err != nil {
			a.log.Errorf("cannot reconnect to amqp: %v", err)
		}
		return err
	}
	if err := backoff.Retry(reconnection, reconnectionBackOff); err != nil {
		return
	}
	a.log.Info("reconnection to amqp was successful")
	go a.notifyWhenClosed()
}

func (a *AMQP) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func (a *AMQP) connect() error {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = conn
	a.channel = channel
	a.declaredExchanges = make(map[string]struct{})
	return nil
}

func (a *AMQP) declareExchange(name, exchangeType string) error {
	return a.channel.ExchangeDeclare(
		name,
		exchangeType,
		durable,
		deleteWhenUnused,
		internal,
		noWait,
		nil, // arguments
	)
}
