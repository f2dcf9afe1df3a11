package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"everactive/internal/agent"
	"everactive/internal/agent/client"
	"everactive/internal/agent/motion"
	"everactive/internal/agent/outbox"
	"everactive/internal/config"
	"everactive/internal/model"
)

func main() {
	log.Println("[Agent] Starting EverActive monitoring agent...")

	cfg := config.LoadAgent()

	api := client.New(cfg.ServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Register is best-effort, the account usually exists already.
	if err := api.Register(ctx, cfg.Email, cfg.Name, cfg.Password); err != nil {
		log.Printf("[Agent] register skipped: %v", err)
	}
	if err := api.Login(ctx, cfg.Email, cfg.Password); err != nil {
		log.Fatalf("[Agent] login failed: %v", err)
	}
	log.Printf("[Agent] logged in as %s", cfg.Email)

	box := outbox.New(api, func(rules []model.Rule) {
		for _, r := range rules {
			log.Printf("[Agent] rule triggered: %s", r.Type)
		}
	})

	monitor := agent.NewMonitor(box, sensitivityFromName(cfg.Sensitivity), motion.NopWakeHold{},
		newSimAccelerometer(), newSimStepCounter(), newSimLocation(52.2297, 21.0122))
	monitor.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("[Agent] Shutting down...")
	monitor.Stop()
	log.Println("[Agent] Stopped")
}

func sensitivityFromName(name string) motion.Sensitivity {
	switch name {
	case "soft":
		return motion.SensitivitySoft
	case "hard":
		return motion.SensitivityHard
	default:
		return motion.SensitivityMedium
	}
}

// simAccelerometer emits resting gravity with sensor noise at 20Hz
type simAccelerometer struct{}

func newSimAccelerometer() *simAccelerometer { return &simAccelerometer{} }

func (s *simAccelerometer) Subscribe(fn func(x, y, z float64)) (func(), error) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn(rand.NormFloat64()*0.2, rand.NormFloat64()*0.2, 9.81+rand.NormFloat64()*0.2)
			}
		}
	}()
	return func() { close(done) }, nil
}

// simStepCounter emits a step burst every few seconds
type simStepCounter struct{}

func newSimStepCounter() *simStepCounter { return &simStepCounter{} }

func (s *simStepCounter) Subscribe(fn func(steps int)) (func(), error) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(time.Duration(3+rand.Intn(6)) * time.Second):
				fn(1 + rand.Intn(4))
			}
		}
	}()
	return func() { close(done) }, nil
}

// simLocation random-walks around a base position
type simLocation struct {
	lat, lon float64
}

func newSimLocation(lat, lon float64) *simLocation {
	return &simLocation{lat: lat, lon: lon}
}

func (s *simLocation) Current() (model.Location, bool) {
	s.lat += rand.NormFloat64() * 0.0002
	s.lon += rand.NormFloat64() * 0.0002
	return model.Location{Latitude: s.lat, Longitude: s.lon}, true
}
