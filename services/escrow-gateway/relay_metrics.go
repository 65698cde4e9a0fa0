package main

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	relayMetricsOnce   sync.Once
	sharedRelayMetrics *relayMetrics
)

type relayMetrics struct {
	relayed  metric.Int64Counter
	prepared metric.Int64Counter
}

func gatewayMetrics() *relayMetrics {
	relayMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("stakeshack/escrow-gateway")
		relayed, err := meter.Int64Counter("stakeshack.gateway.relayed",
			metric.WithDescription("Wallet-signed transactions relayed, by outcome."))
		if err != nil {
			relayed, _ = noop.NewMeterProvider().Meter("stakeshack/escrow-gateway").Int64Counter("stakeshack.gateway.relayed")
		}
		prepared, err := meter.Int64Counter("stakeshack.gateway.prepared",
			metric.WithDescription("Unsigned transactions handed to wallets, by action."))
		if err != nil {
			prepared, _ = noop.NewMeterProvider().Meter("stakeshack/escrow-gateway").Int64Counter("stakeshack.gateway.prepared")
		}
		sharedRelayMetrics = &relayMetrics{relayed: relayed, prepared: prepared}
	})
	return sharedRelayMetrics
}

func (m *relayMetrics) recordRelay(ctx context.Context, outcome string) {
	if m == nil || m.relayed == nil {
		return
	}
	m.relayed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *relayMetrics) recordPrepared(ctx context.Context, action string) {
	if m == nil || m.prepared == nil {
		return
	}
	m.prepared.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
