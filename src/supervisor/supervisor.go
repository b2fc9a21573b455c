// Package supervisor owns the set of BrokerSession tasks: startup token
// verification, the shared SessionEntry registry, and the fixed-cadence
// reconciliation loop that (re)spawns missing sessions and prunes finished
// ones. It generalizes the teacher's src/bridge orchestration style
// (EventsBridge owning a fixed set of connector goroutines) to this domain's
// per-relay session lifecycle.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tagoio/mqtt-relay/src/broker"
	"github.com/tagoio/mqtt-relay/src/config"
	"github.com/tagoio/mqtt-relay/src/logging"
)

// ReconcileInterval is the fixed cadence of the reconciliation sweep
// (SPEC_FULL §4.3).
const ReconcileInterval = 120 * time.Second

// platformClient is the subset of *platform.Client the Supervisor and the
// sessions it spawns need: startup token verification plus forwarding.
type platformClient interface {
	VerifyNetworkToken(relay *config.RelayConfig) (string, error)
	broker.Forwarder
}

// Supervisor owns the list of relays, their shared SessionEntry registry,
// and the reconciliation loop.
type Supervisor struct {
	relays   []*config.RelayConfig
	platform platformClient
	registry *Registry
	logger   *slog.Logger
}

// New builds a Supervisor for relays.
func New(relays []*config.RelayConfig, platformClient platformClient, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		relays:   relays,
		platform: platformClient,
		registry: NewRegistry(),
		logger:   logging.For(logger, logging.TargetNetwork),
	}
}

// Registry returns the shared SessionEntry registry, for the DownlinkAPI's
// routing handlers.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// First, Lookup and Relays let *Supervisor satisfy downlink.Registry
// directly, so main.go can hand the Supervisor itself to the DownlinkAPI.

func (s *Supervisor) First() (string, chan<- broker.PublishMessage, bool) {
	return s.registry.First()
}

func (s *Supervisor) Lookup(id string) (chan<- broker.PublishMessage, bool) {
	return s.registry.Lookup(id)
}

func (s *Supervisor) Relays() []*config.RelayConfig {
	return s.relays
}

// VerifyTokens performs startup token verification for every relay,
// filling in each RelayConfig's NetworkID. Any verification error is fatal
// per SPEC_FULL §4.3, and must happen before any session goroutine starts
// so RelayConfig mutation never races with a reader.
func (s *Supervisor) VerifyTokens() error {
	for _, relay := range s.relays {
		id, err := s.platform.VerifyNetworkToken(relay)
		if err != nil {
			return fmt.Errorf("relay %s: failed to verify network token: %w", relay.ID, err)
		}
		relay.NetworkID = id
	}
	return nil
}

// Run enters the reconciliation loop: an immediate sweep, then one every
// ReconcileInterval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	s.reconcile(ctx)

	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile spawns a session for every relay with no live entry, then
// prunes entries whose task has finished.
func (s *Supervisor) reconcile(ctx context.Context) {
	for _, relay := range s.relays {
		if s.registry.Has(relay.ID) {
			continue
		}
		s.spawn(ctx, relay)
	}
	s.prune()
}

// spawn starts a new BrokerSession for relay and registers its entry.
func (s *Supervisor) spawn(ctx context.Context, relay *config.RelayConfig) {
	sessionCtx, cancel := context.WithCancel(ctx)
	publishCh := make(chan broker.PublishMessage, broker.BusCapacity)
	session := broker.NewSession(relay, s.platform, publishCh, s.logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		session.Run(sessionCtx)
	}()

	s.logger.Info("session spawned", "relay_id", relay.ID)
	s.registry.Put(relay.ID, &Entry{
		RelayID: relay.ID,
		Cancel:  cancel,
		Done:    done,
		Publish: publishCh,
	})
}

// prune removes every entry whose session goroutine has finished, so the
// next sweep respawns it (SPEC_FULL §8 invariant 4).
func (s *Supervisor) prune() {
	for _, id := range s.registry.IDs() {
		entry, ok := s.registry.Entry(id)
		if !ok {
			continue
		}
		select {
		case <-entry.Done:
			s.logger.Info("session finished, pruning", "relay_id", id)
			entry.Cancel()
			s.registry.Remove(id)
		default:
		}
	}
}
