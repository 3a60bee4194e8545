package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/yulon/go-raknet"
)

func main() {
	configPath := flag.String("config", "", "TOML config file")
	addr := flag.String("addr", ":19132", "listen address")
	dial := flag.String("dial", "", "send -msg to this server and print the echo instead of serving")
	msg := flag.String("msg", "hello", "payload sent with -dial")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	logger := initLogger(*debug)

	cfg := raknet.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = raknet.LoadConfig(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load config")
		}
		logger.Info().Str("path", *configPath).Msg("loaded config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dial != "" {
		if err := ping(ctx, *dial, *msg, cfg, logger); err != nil {
			logger.Fatal().Err(err).Str("addr", *dial).Msg("echo failed")
		}
		return
	}

	ep, err := raknet.Listen(ctx, *addr,
		raknet.WithConfig(cfg),
		raknet.WithLogger(zlog{logger}),
		raknet.OnPayload(func(s *raknet.Session, p []byte) {
			if err := s.Send(p, raknet.ReliableOrdered(0)); err != nil {
				logger.Warn().Err(err).Stringer("addr", s.AddrPort()).Msg("echo failed")
			}
		}),
	)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", *addr).Msg("failed to listen")
	}

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for range usr1 {
			dumpLog(os.Stdout)
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	ep.Close()
	if err := ep.Wait(); err != nil {
		logger.Error().Err(err).Msg("endpoint stopped")
	}
}

func ping(ctx context.Context, addr, msg string, cfg raknet.Config, logger zerolog.Logger) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s, err := raknet.Dial(dialCtx, addr, raknet.WithConfig(cfg), raknet.WithLogger(zlog{logger}))
	if err != nil {
		return err
	}
	defer s.Close()

	start := time.Now()
	if err := s.Send([]byte(msg), raknet.ReliableOrdered(0)); err != nil {
		return err
	}
	p, err := s.Recv(dialCtx)
	if err != nil {
		return err
	}
	logger.Info().Str("payload", string(p)).Dur("rtt", time.Since(start)).Uint16("mtu", uint16(s.MTU())).Msg("echo")
	return nil
}
