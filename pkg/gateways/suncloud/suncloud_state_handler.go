package suncloud

import (
	"context"

	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/entities"
	"github.com/sirupsen/logrus"
)

type stateHandler interface {
	execute(ctx context.Context) error
	setNext(stateHandler)
}

type baseState struct {
	next stateHandler
	log  *logrus.Entry
}

func (bs *baseState) setNext(next stateHandler) {
	bs.next = next
}

func (bs *baseState) forward(ctx context.Context) error {
	if bs.next == nil {
		return nil
	}
	return bs.next.execute(ctx)
}

// stepStateHandler runs one bootstrap step when its output is not held yet,
// then hands over to the next step.
type stepStateHandler struct {
	baseState
	step     string
	resolved func() bool
	resolve  func(context.Context) error
}

func (sh *stepStateHandler) execute(ctx context.Context) error {
	if sh.resolved() {
		return sh.forward(ctx)
	}
	if err := ctx.Err(); err != nil {
		return &BootstrapError{Step: sh.step, Err: err}
	}

	sh.log.WithField("step", sh.step).Info("running bootstrap step")
	if err := sh.resolve(ctx); err != nil {
		sh.log.WithField("step", sh.step).Errorln(err)
		return &BootstrapError{Step: sh.step, Err: err}
	}
	return sh.forward(ctx)
}

// newBootstrapChain links the steps in dependency order.
func newBootstrapChain(c *Client) stateHandler {
	steps := []*stepStateHandler{
		{step: entities.StepAuthenticate, resolved: func() bool { return c.token != "" }, resolve: c.authenticate},
		{step: entities.StepResolvePlant, resolved: func() bool { return c.plantID != "" }, resolve: c.resolvePlant},
		{step: entities.StepResolveDevice, resolved: func() bool { return c.deviceSerial != "" }, resolve: c.resolveDevice},
		{step: entities.StepResolvePlantKey, resolved: func() bool { return c.plantKey != "" }, resolve: c.resolvePlantKey},
		{step: entities.StepDiscoverPoints, resolved: func() bool { return len(c.points) > 0 }, resolve: c.discoverPoints},
	}
	for i, handler := range steps {
		handler.log = c.log
		if i > 0 {
			steps[i-1].setNext(handler)
		}
	}
	return steps[0]
}
