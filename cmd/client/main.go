package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/client"
	"github.com/paircall/paircall/internal/client/rtc"
	"github.com/paircall/paircall/internal/config"
	"github.com/paircall/paircall/internal/domain"
)

func main() {
	var (
		server = flag.String("server", "ws://localhost:8080/api/ws/signal", "relay signaling endpoint")
		id     = flag.String("id", "", "user id to join as")
		name   = flag.String("name", "", "display name")
		stun   = flag.String("stun", "", "comma-separated STUN server URLs")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *id == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "usage: client -id <user-id> -name <name> [-server <url>]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var stunServers []string
	if *stun != "" {
		stunServers = strings.Split(*stun, ",")
	} else if cfg, err := config.Load(); err == nil {
		stunServers = cfg.StunServers
	}
	devices, err := rtc.NewDevices(stunServers)
	if err != nil {
		log.Fatal().Err(err).Msg("media devices init")
	}

	identity := client.Identity{ID: domain.UserID(*id), Name: *name}
	conn, err := client.DialRelay(ctx, *server, identity)
	if err != nil {
		log.Fatal().Err(err).Msg("relay dial")
	}
	defer conn.Close()

	machine := client.NewMachine(identity, devices, devices.NewPeer, conn)
	conn.Bind(machine)
	conn.Run(ctx)
	if err := conn.Join(); err != nil {
		log.Fatal().Err(err).Msg("join")
	}

	go printEvents(machine)

	repl(ctx, machine)
	machine.Close()
}

func printEvents(m *client.Machine) {
	for e := range m.Events() {
		switch e.Kind {
		case client.EventStateChanged:
			log.Info().Str("state", e.State.String()).Msg("call state")
		case client.EventOnlineUsers:
			for _, u := range e.Users {
				fmt.Printf("  online: %s (%s)\n", u.Name, u.ID)
			}
		case client.EventIncomingCall:
			fmt.Printf("incoming call from %s (%s) — accept/reject?\n", e.Party.Name, e.Party.ID)
		case client.EventMissedCall:
			fmt.Printf("missed call from %s while busy\n", e.Party.Name)
		case client.EventCallRejected:
			fmt.Printf("%s rejected the call\n", e.Party.Name)
		case client.EventRemoteTrack:
			log.Info().Str("kind", string(e.Remote.Kind())).Str("id", e.Remote.ID()).Msg("remote media")
		case client.EventError:
			log.Error().Err(e.Err).Msg("call error")
		}
	}
}

func repl(ctx context.Context, m *client.Machine) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: call <user-id> | accept | reject | end | mic | cam | quit")
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "call":
			if len(fields) < 2 {
				fmt.Println("call <user-id>")
				continue
			}
			err = m.Dial(ctx, client.RemoteParty{ID: domain.UserID(fields[1])})
		case "accept":
			err = m.Accept(ctx)
		case "reject":
			err = m.Reject()
		case "end":
			err = m.End()
		case "mic":
			var on bool
			if on, err = m.ToggleMic(); err == nil {
				fmt.Printf("mic on: %v\n", on)
			}
		case "cam":
			var on bool
			if on, err = m.ToggleCamera(ctx); err == nil {
				fmt.Printf("cam on: %v\n", on)
			}
		case "quit":
			return
		default:
			fmt.Println("unknown command")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("cmd", fields[0]).Msg("command failed")
		}
	}
}
