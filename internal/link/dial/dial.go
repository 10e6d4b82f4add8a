// Package dial constructs both ends of a wired edge according to a
// topology.EdgeOverride, picking chanlink, mqttlink, or seriallink the way
// internal/supervisor's AddEdge used to always pick chanlink.
package dial

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcerouted/overlay/internal/link"
	"github.com/sourcerouted/overlay/internal/link/chanlink"
	"github.com/sourcerouted/overlay/internal/link/mqttlink"
	"github.com/sourcerouted/overlay/internal/link/seriallink"
	"github.com/sourcerouted/overlay/internal/topology"
)

// Pair establishes both ends of one edge. linkFrom is the from-side's link
// to to, and linkTo is the to-side's link back to from — the same naming
// chanlink.NewPair uses.
func Pair(ctx context.Context, ov topology.EdgeOverride, logger *slog.Logger) (linkFrom, linkTo link.Link, err error) {
	switch ov.Transport {
	case topology.TransportInproc, "":
		a, b := chanlink.NewPair()
		return a, b, nil
	case topology.TransportMQTT:
		return dialMQTT(ctx, ov, logger)
	case topology.TransportSerial:
		return dialSerial(ov, logger)
	default:
		return nil, nil, fmt.Errorf("dial: unknown transport %q", ov.Transport)
	}
}

func dialMQTT(ctx context.Context, ov topology.EdgeOverride, logger *slog.Logger) (link.Link, link.Link, error) {
	edgeID := ov.Topic
	if edgeID == "" {
		edgeID = fmt.Sprintf("%d-%d", ov.From, ov.To)
	}

	a, err := mqttlink.Dial(ctx, mqttlink.Config{
		Broker:   ov.Broker,
		ClientID: fmt.Sprintf("overlay-%d-%d", ov.From, ov.To),
		EdgeID:   edgeID,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial: mqtt side %d: %w", ov.From, err)
	}

	b, err := mqttlink.Dial(ctx, mqttlink.Config{
		Broker:   ov.Broker,
		ClientID: fmt.Sprintf("overlay-%d-%d", ov.To, ov.From),
		EdgeID:   edgeID,
		Logger:   logger,
	})
	if err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("dial: mqtt side %d: %w", ov.To, err)
	}

	return a, b, nil
}

func dialSerial(ov topology.EdgeOverride, logger *slog.Logger) (link.Link, link.Link, error) {
	a, err := seriallink.Open(seriallink.Config{Port: ov.PortA, BaudRate: ov.BaudRate, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("dial: serial side %d (%s): %w", ov.From, ov.PortA, err)
	}

	b, err := seriallink.Open(seriallink.Config{Port: ov.PortB, BaudRate: ov.BaudRate, Logger: logger})
	if err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("dial: serial side %d (%s): %w", ov.To, ov.PortB, err)
	}

	return a, b, nil
}
