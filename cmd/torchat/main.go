package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/opd-ai/torchat"
)

func main() {
	app := &cli.App{
		Name:  "torchat",
		Usage: "peer-to-peer chat core speaking the TorChat protocol over a SOCKS4a proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a YAML options file",
			},
			&cli.StringFlag{
				Name:  "onion",
				Usage: "our own onion address (without .onion)",
			},
			&cli.UintFlag{
				Name:  "listen-port",
				Usage: "local port for incoming connections",
			},
			&cli.StringFlag{
				Name:  "proxy-host",
				Usage: "SOCKS4a proxy host",
			},
			&cli.UintFlag{
				Name:  "proxy-port",
				Usage: "SOCKS4a proxy port",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "logrus level: trace, debug, info, warn, error",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("torchat exited")
	}
}

func run(ctx *cli.Context) error {
	level, err := logrus.ParseLevel(ctx.String("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	opts, err := loadOptions(ctx)
	if err != nil {
		return err
	}

	client, err := torchat.New(opts)
	if err != nil {
		return err
	}

	client.OnChatEstablished(func(onion string) {
		logrus.WithField("onion", onion).Info("Chat established")
	})
	client.OnChatMessage(func(onion, text string) {
		logrus.WithFields(logrus.Fields{
			"onion": onion,
			"text":  text,
		}).Info("Chat message")
	})
	client.OnBuddyDisconnect(func(onion string, cause error) {
		logrus.WithFields(logrus.Fields{
			"onion": onion,
			"cause": cause,
		}).Info("Buddy disconnected")
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logrus.WithField("signal", s).Info("Shutting down")
		client.Stop()
	}()

	return client.Run()
}

// loadOptions builds the effective options: defaults, then the config
// file if given, then flag overrides.
func loadOptions(ctx *cli.Context) (*torchat.Options, error) {
	opts := torchat.NewOptions()
	if path := ctx.String("config"); path != "" {
		loaded, err := torchat.LoadOptions(path)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	if v := ctx.String("onion"); v != "" {
		opts.OnionAddress = v
	}
	if v := ctx.Uint("listen-port"); v != 0 {
		opts.ListenPort = uint16(v)
	}
	if v := ctx.String("proxy-host"); v != "" {
		opts.ProxyHost = v
	}
	if v := ctx.Uint("proxy-port"); v != 0 {
		opts.ProxyPort = uint16(v)
	}
	return opts, nil
}
