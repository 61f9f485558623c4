package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dense-identity/callsync/internal/baresip"
	"github.com/dense-identity/callsync/internal/bridge"
	"github.com/dense-identity/callsync/internal/config"
	"github.com/dense-identity/callsync/internal/journal"
)

// healthService is the name reported by the gRPC health endpoint.
const healthService = "callsync"

var interactive bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bridge Baresip calls to the accessory protocols",
	Long: `Connect to Baresip's ctrl_tcp interface, track its calls and emit every
accessory protocol primitive to the log and, when enabled, the Redis journal.

A gRPC health endpoint reports SERVING while the bridge runs. With --interactive,
accessory commands (answer, hangup, chld, tone, list, query) are read from stdin.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, stop, cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read accessory commands from stdin")
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *config.Bridge) error {
	log := logrus.WithField("service", "callsync")

	store, err := journal.Open(ctx, journalOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()
	var appender journal.Appender
	if store != nil {
		appender = store
	}
	redactor, err := journal.NewRedactor(cfg.JournalRedactKey)
	if err != nil {
		return err
	}
	session := uuid.NewString()
	sink := journal.NewSink(session, appender, log, journal.WithRedactor(redactor))
	defer sink.Close()

	capability, err := bridge.ParseVoiceCapability(cfg.VoiceCapability)
	if err != nil {
		return err
	}

	client := baresip.NewClient(cfg.BaresipAddr, log)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	source := baresip.NewSource(client, log)
	defer source.Close()
	engine := bridge.New(source,
		bridge.WithLogger(log),
		bridge.WithDualIdentity(cfg.DualIdentity),
		bridge.WithVoiceCapability(capability),
		bridge.WithPacingDelay(cfg.PacingDelay),
		bridge.WithSubscriberNumber(cfg.SubscriberNumber),
		bridge.WithNetworkCountry(cfg.NetworkCountry),
	)
	defer engine.Close()
	source.Attach(engine)
	if err := engine.Start(); err != nil {
		return err
	}
	engine.SetLegacySink(sink)
	engine.SetListSink(sink)

	go func() {
		if err := source.Run(ctx, client.Events()); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("Call source stopped")
		}
		stop()
	}()
	go func() {
		if err, ok := <-client.Errors(); ok && err != nil {
			log.WithError(err).Error("Baresip connection lost")
			stop()
		}
	}()

	addr := cfg.GrpcPort
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("gRPC serve error")
		}
	}()

	log.WithFields(logrus.Fields{
		"session":       session,
		"baresip":       cfg.BaresipAddr,
		"health":        lis.Addr().String(),
		"journal":       store != nil,
		"dual_identity": cfg.DualIdentity,
		"capability":    capability,
	}).Info("callsync started")

	if interactive {
		go runConsole(ctx, os.Stdin, os.Stdout, engine, stop)
	}

	<-ctx.Done()

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	log.Info("callsync stopped")
	return nil
}
