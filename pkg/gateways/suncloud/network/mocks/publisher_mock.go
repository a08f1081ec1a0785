package mocks

import (
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/gateways/suncloud/network"
	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (p *PublisherMock) PublishReadings(message network.ReadingsSent) error {
	args := p.Called(message)
	return args.Error(0)
}
