// Command rtpmidi-bridge is a minimal AppleMIDI/RTP-MIDI endpoint: it
// starts a session on the configured port, optionally invites a remote
// peer and advertises itself over Bonjour, prints every inbound MIDI
// command as hex to stdout, and sends whitespace-separated hex byte
// triples typed on stdin as outbound MIDI commands.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/resonantlabs/rtpmidi/mdns"
	"github.com/resonantlabs/rtpmidi/midi"
	"github.com/resonantlabs/rtpmidi/session"
)

type config struct {
	port          int
	name          string
	inviteAddr    string
	advertise     bool
	acceptInvites bool
	logLevel      string
}

func loadConfig() (*config, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("rtpmidi-bridge", flag.ContinueOnError)
	fs.IntVar(&cfg.port, "port", 5004, "control port (the data port is this plus one)")
	fs.StringVar(&cfg.name, "name", defaultSessionName(), "session name advertised to peers")
	fs.StringVar(&cfg.inviteAddr, "invite", "", "host:port of a remote session to invite on startup")
	fs.BoolVar(&cfg.advertise, "advertise", true, "advertise this session over Bonjour/mDNS")
	fs.BoolVar(&cfg.acceptInvites, "accept-invites", true, "accept incoming invitations (false rejects every invite)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	return cfg, nil
}

func defaultSessionName() string {
	host, err := os.Hostname()
	if err != nil {
		return "rtpmidi-bridge"
	}
	return "rtpmidi-bridge@" + host
}

func slogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.logLevel)}))

	policy := session.AcceptAll
	if !cfg.acceptInvites {
		policy = session.RejectAll
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithInvitePolicy(policy),
	}
	if cfg.advertise {
		opts = append(opts, session.WithMDNS(mdns.NewZeroconfAdvertiser()))
	}

	s, err := session.Start(cfg.port, cfg.name, opts...)
	if err != nil {
		logger.Error("start session failed", "error", err)
		os.Exit(1)
	}
	defer s.Stop()

	s.AddListener(session.EventMidiPacket, func(event any) {
		e := event.(session.MidiEvent)
		for _, cmd := range e.Commands {
			fmt.Printf("< ssrc=0x%08x seq=%d %s %s\n", e.SSRC, e.SequenceNumber, cmd, hex.EncodeToString(cmd.Data))
		}
	})
	s.AddListener(session.EventParticipantJoined, func(event any) {
		e := event.(session.ParticipantEvent)
		logger.Info("participant joined", "name", e.Name, "addr", e.Addr)
	})
	s.AddListener(session.EventParticipantLeft, func(event any) {
		e := event.(session.ParticipantEvent)
		logger.Info("participant left", "name", e.Name, "addr", e.Addr)
	})

	if cfg.inviteAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", cfg.inviteAddr)
		if err != nil {
			logger.Error("resolve invite address failed", "addr", cfg.inviteAddr, "error", err)
		} else {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				if err := s.InviteParticipant(ctx, addr); err != nil {
					logger.Error("invite failed", "addr", cfg.inviteAddr, "error", err)
				}
			}()
		}
	}

	go readOutboundCommands(os.Stdin, s, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

// readOutboundCommands reads lines of whitespace-separated hex bytes
// (e.g. "90 40 7f" for a note-on) from r and sends each as one MIDI
// command to every Established participant.
func readOutboundCommands(r *os.File, s *session.Session, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, err := parseCommandLine(line)
		if err != nil {
			logger.Warn("skipping malformed input line", "line", line, "error", err)
			continue
		}
		if err := s.SendMIDI(cmd); err != nil {
			logger.Warn("send midi failed", "error", err)
		}
	}
}

func parseCommandLine(line string) (midi.Command, error) {
	fields := strings.Fields(line)
	bytes := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return midi.Command{}, fmt.Errorf("parsing byte %q: %w", f, err)
		}
		bytes = append(bytes, byte(v))
	}
	cmd, _, err := midi.Decode(bytes)
	return cmd, err
}
