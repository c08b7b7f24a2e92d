// Command crossfeed-proxy runs the network-protocol engine as a
// standalone listening process: it loads boot configuration from the
// environment, constructs the orchestrator, and serves connections
// until SIGINT/SIGTERM.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/proxy"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	boot, err := proxy.LoadBootConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(boot.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", boot.LogLevel).Msg("invalid log level")
	}
	log.Logger = log.Level(level)

	sink := proxy.NewChannelSink(0)
	go drainObservations(sink)

	p, perr := proxy.NewProxy(boot.Proxy, sink)
	if perr != nil {
		log.Fatal().Err(perr).Msg("failed to construct proxy")
	}

	go func() {
		log.Info().
			Str("listen_host", boot.Proxy.Listen.Host).
			Int("listen_port", int(boot.Proxy.Listen.Port)).
			Bool("tls_mitm", boot.Proxy.TLS.Enabled).
			Msg("starting crossfeed proxy")
		if runErr := p.Run(); runErr != nil {
			log.Fatal().Err(runErr).Msg("proxy exited unexpectedly")
		}
	}()

	waitForShutdown(p)
}

// drainObservations is the default sink consumer when no external
// collector is attached: it logs each completed exchange at debug
// level so a bare `crossfeed-proxy` run is still observable.
func drainObservations(sink *proxy.ChannelSink) {
	for obs := range sink.Observations() {
		log.Debug().
			Str("conn_id", obs.ConnID.String()).
			Uint64("seq", obs.Seq).
			Str("method", obs.Method).
			Str("host", obs.Host).
			Str("path", obs.Path).
			Int("status", obs.StatusCode).
			Bool("in_scope", obs.ScopeEvaluation.InScope).
			Int64("duration_ms", obs.DurationMS).
			Msg("observation")
	}
}

func waitForShutdown(p *proxy.Proxy) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down crossfeed proxy")
	if err := p.Close(); err != nil {
		log.Error().Err(err).Msg("error closing listener")
	}
	log.Info().Msg("proxy stopped")
}
