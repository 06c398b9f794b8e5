package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/waveguard/waveguard/internal/access"
	"github.com/waveguard/waveguard/internal/config"
	"github.com/waveguard/waveguard/internal/dbusportal"
	"github.com/waveguard/waveguard/internal/hostsim"
	"github.com/waveguard/waveguard/internal/sandbox"
)

const (
	trustedClient   uint32 = 1
	sandboxedClient uint32 = 2
	sandboxedPID    int32  = 424242
)

// demoClassifier overlays forced classifications on the real detector so the
// demo has a deterministic sandboxed client on any machine.
type demoClassifier struct {
	real   access.Classifier
	forced map[int32]bool
}

func (c demoClassifier) IsSandboxed(pid int32) bool {
	if forced, ok := c.forced[pid]; ok {
		return forced
	}
	return c.real.IsSandboxed(pid)
}

// runSimulatedHost wires the access core to the in-memory host and walks it
// through a representative session: a trusted local client, a sandboxed one,
// stream ownership checks, a consent dialog and subscription events.
func runSimulatedHost(ctx context.Context, cfg config.Config) error {
	objects := hostsim.NewObjects()
	bus := hostsim.NewBus()

	var portal access.PortalBus
	if cfg.UseDBus {
		p, err := dbusportal.New()
		if err != nil {
			return fmt.Errorf("connect portal: %w", err)
		}
		defer p.Close()
		portal = p
		log.Info().Msg("Using desktop portal on the session bus")
	} else {
		fake := hostsim.NewFakePortal()
		fake.Grant = cfg.FakePortalGrant
		fake.Delay = cfg.FakePortalDelay
		portal = fake
		log.Info().
			Bool("grant", cfg.FakePortalGrant).
			Dur("delay", cfg.FakePortalDelay).
			Msg("Using built-in fake portal")
	}

	module, err := access.New(access.Options{
		Objects: objects,
		Classifier: demoClassifier{
			real:   sandbox.NewDetector(),
			forced: map[int32]bool{sandboxedPID: true},
		},
		Portal:        portal,
		PortalTimeout: cfg.PortalTimeout,
	})
	if err != nil {
		return fmt.Errorf("init access module: %w", err)
	}
	module.Attach(bus)
	defer module.Done()

	runDemoSession(bus, objects)

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}

func runDemoSession(bus *hostsim.Bus, objects *hostsim.Objects) {
	bus.FireClient(access.ClientPut, access.ClientInfo{
		Index:            trustedClient,
		PID:              int32(os.Getpid()),
		CredentialsValid: true,
	})
	bus.FireClient(access.ClientAuth, access.ClientInfo{
		Index:            trustedClient,
		PID:              int32(os.Getpid()),
		CredentialsValid: true,
	})
	bus.FireClient(access.ClientPut, access.ClientInfo{
		Index:            sandboxedClient,
		PID:              sandboxedPID,
		CredentialsValid: true,
	})
	bus.FireClient(access.ClientAuth, access.ClientInfo{
		Index:            sandboxedClient,
		PID:              sandboxedPID,
		CredentialsValid: true,
	})

	objects.AddSinkInput(42, trustedClient)

	fire := func(desc string, req access.Request) {
		v := bus.Fire(req.Hook, req)
		log.Info().
			Str("scenario", desc).
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Str("verdict", v.String()).
			Msg("Hook fired")
	}

	fire("trusted info query", access.Request{
		Hook: access.HookGetSinkInfo, ClientIndex: trustedClient, ObjectIndex: 3,
	})
	fire("owner adjusts own stream", access.Request{
		Hook: access.HookSetSinkInputVolume, ClientIndex: trustedClient, ObjectIndex: 42,
	})
	fire("stranger adjusts foreign stream", access.Request{
		Hook: access.HookSetSinkInputVolume, ClientIndex: sandboxedClient, ObjectIndex: 42,
	})
	fire("sandboxed playback, consent pending", access.Request{
		Hook:        access.HookConnectPlayback,
		ClientIndex: sandboxedClient,
		Finish: func(granted bool) {
			log.Info().
				Uint32("client", sandboxedClient).
				Bool("granted", granted).
				Msg("Deferred playback decision arrived")
		},
	})

	ev := access.EncodeEvent(access.FacilitySinkInput, access.EventNew)
	fire("stream event to owner", access.Request{
		Hook: access.HookFilterSubscribeEvent, ClientIndex: trustedClient, ObjectIndex: 42, Event: ev,
	})
	fire("stream event to stranger", access.Request{
		Hook: access.HookFilterSubscribeEvent, ClientIndex: sandboxedClient, ObjectIndex: 42, Event: ev,
	})
}
