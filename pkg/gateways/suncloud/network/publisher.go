package network

import (
	"errors"

	"github.com/google/uuid"
)

const (
	routingKeyReadings    = ""
	defaultExpirationTime = "3600000"
	headerPlantKey        = "ps_key"
)

type Publisher interface {
	PublishReadings(message ReadingsSent) error
}

type msgPublisher struct {
	amqp Messaging
}

func NewMsgPublisher(amqp Messaging) Publisher {
	return &msgPublisher{amqp}
}

// newMessageID is replaced in tests.
var newMessageID = func() string {
	return uuid.NewString()
}

func (mp *msgPublisher) PublishReadings(message ReadingsSent) error {
	if message.PlantKey == "" {
		return errors.New("readings without plant key")
	}
	if len(message.Readings) == 0 {
		return nil
	}

	options := MessageOptions{
		MessageID:  newMessageID(),
		Expiration: defaultExpirationTime,
		Headers:    map[string]interface{}{headerPlantKey: message.PlantKey},
	}
	return mp.amqp.PublishPersistentMessage(ExchangeReadings, ExchangeTypeFanout, routingKeyReadings, message, &options)
}
