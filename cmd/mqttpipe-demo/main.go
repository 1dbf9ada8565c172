// Command mqttpipe-demo wires an adapter policy, a reconnect policy, and the
// Redis-backed bridge into a single pipeline, connects to a broker-less
// Redis instance standing in for the wire, subscribes to a demo topic once
// connected, logs every message it receives, and publishes a heartbeat on
// that topic every five seconds — a minimal host the way
// core/cmd/example/main.go is a minimal host for a BaseAgent.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/mqttadapter"
	"github.com/nodalcore/mqttpipe/mqttconfig"
	"github.com/nodalcore/mqttpipe/mqttlog"
	"github.com/nodalcore/mqttpipe/mqtttelemetry"
	"github.com/nodalcore/mqttpipe/pipeline"
	"github.com/nodalcore/mqttpipe/platform"
	"github.com/nodalcore/mqttpipe/reconnectpolicy"
	"github.com/nodalcore/mqttpipe/redisbridge"
)

const demoTopic = "mqttpipe/demo"

func main() {
	cfg, err := mqttconfig.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := mqttlog.NewSimpleLogger()
	logger.SetLevel(levelFromString(cfg.Logging.Level))

	metrics := mqtttelemetry.New(mqtttelemetry.NewMeterProvider(), "mqttpipe-demo")

	port := platform.NewDefault()
	backendFactory := redisbridge.New(redisbridge.Options{
		URL:       cfg.Backend.RedisURL,
		Namespace: "mqttpipe-demo",
	}, logger)

	adapter := mqttadapter.New("adapter", backendFactory, mqttadapter.DefaultOptions(), logger)

	connectReq := mqttadapter.ConnectRequest{
		Host:          cfg.Host,
		Port:          cfg.Port,
		ClientID:      cfg.ClientID,
		Username:      cfg.Username,
		Password:      cfg.Password,
		KeepAliveSecs: cfg.KeepAliveSecs,
	}
	reconnect := reconnectpolicy.New("reconnect", adapter, connectReq, cfg.Reconnect, port, logger, metrics)

	onFatal := func(pl *pipeline.Pipeline, err error) {
		logger.Error("pipeline: fatal", mqttlog.Fields{"err": err.Error()})
		metrics.CountFatal(context.Background(), err.Error())
		os.Exit(1)
	}
	pl := pipeline.New(onFatal, adapter.Policy, reconnect.Policy)

	subscribed := make(chan struct{}, 1)
	reconnect.Observer = func(e hfsm.Event) {
		switch e.Kind {
		case mqttadapter.ConnAck:
			select {
			case subscribed <- struct{}{}:
			default:
			}
		case mqttadapter.Recv:
			payload, _ := e.Payload.(mqttadapter.RecvPayload)
			logger.Info("received message", mqttlog.Fields{
				"topic":   payload.Topic,
				"payload": string(payload.Payload),
			})
		}
	}

	if err := adapter.Connect(connectReq); err != nil {
		logger.Error("initial connect failed", mqttlog.Fields{"err": err.Error()})
	}

	go func() {
		<-subscribed
		if _, err := adapter.Subscribe(mqttadapter.SubscribeRequest{TopicFilter: demoTopic}); err != nil {
			logger.Error("subscribe failed", mqttlog.Fields{"err": err.Error()})
		}
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if adapter.State() != "Connected" {
				continue
			}
			if _, err := adapter.Publish(mqttadapter.PublishRequest{
				Topic:   demoTopic,
				Payload: []byte("heartbeat"),
			}); err != nil {
				logger.Warn("publish failed", mqttlog.Fields{"err": err.Error()})
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	reconnect.Stop()
	if adapter.State() == "Connected" {
		_ = adapter.Disconnect()
	}
	_ = pl
}

func levelFromString(s string) mqttlog.Level {
	switch s {
	case "debug":
		return mqttlog.DebugLevel
	case "warn":
		return mqttlog.WarnLevel
	case "error":
		return mqttlog.ErrorLevel
	default:
		return mqttlog.InfoLevel
	}
}
