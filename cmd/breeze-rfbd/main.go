package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/rfbserver/internal/config"
	"github.com/breeze-rmm/rfbserver/internal/logging"
	"github.com/breeze-rmm/rfbserver/internal/rfb/auth"
	"github.com/breeze-rmm/rfbserver/internal/rfb/captransport"
	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
	"github.com/breeze-rmm/rfbserver/internal/rfb/session"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "breeze-rfbd",
	Short: "Breeze RFB daemon",
	Long:  `breeze-rfbd - a standalone RFB/VNC server session core`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the RFB listener",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("breeze-rfbd v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/breeze/breeze-rfbd.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, 50, 3)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// placeholderDesktop builds the reference framebuffer served when no real
// capture backend is wired in (capture backends are out of scope for this
// core; captransport.StaticSource exists precisely so a caller can swap
// this out for a real one without touching session.Server).
func placeholderDesktop(name string) (*framebuffer.Framebuffer, error) {
	const w, h = 1024, 768
	fb, err := framebuffer.New(name, w, h, pixfmt.RGB888)
	if err != nil {
		return nil, err
	}
	buf := fb.GetBuffer()
	stride := fb.Stride()
	for y := 0; y < h; y++ {
		row := buf[y*stride : y*stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			px[0] = byte(x * 255 / w)
			px[1] = byte(y * 255 / h)
			px[2] = 0x80
			px[3] = 0
		}
	}
	return fb, nil
}

func buildListener(cfg *config.Config) (net.Listener, error) {
	if cfg.TLSCertFile == "" {
		return net.Listen("tcp", cfg.ListenAddr)
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	return tls.Listen("tcp", cfg.ListenAddr, tlsCfg)
}

func runDaemon() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)

	securePassword := cfg.SecurePassword()
	cfg.Password = ""
	if securePassword != nil {
		defer securePassword.Zero()
	}

	var challenge *auth.PasswordChallenge
	if cfg.RequireAuth {
		challenge = auth.NewPasswordChallenge(securePassword)
	}

	desktop, err := placeholderDesktop(cfg.DesktopName)
	if err != nil {
		log.Error("failed to build placeholder desktop", "error", err)
		os.Exit(1)
	}
	capture := captransport.NewStaticSource(desktop)

	ln, err := buildListener(cfg)
	if err != nil {
		log.Error("failed to start listener", "error", err)
		os.Exit(1)
	}

	srv := session.NewServer(ln, cfg.MaxSessions, func(conn net.Conn) session.Config {
		return session.Config{
			Name:           cfg.DesktopName,
			RequireAuth:    cfg.RequireAuth,
			PasswordAuth:   challenge,
			MaxFrameRateHz: cfg.MaxFrameRateHz,
			Capture:        capture,
		}
	})

	log.Info("breeze-rfbd listening", "addr", ln.Addr().String(), "requireAuth", cfg.RequireAuth, "maxSessions", cfg.MaxSessions)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("listener stopped unexpectedly", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("error during shutdown", "error", err)
	}

	log.Info("breeze-rfbd stopped")
}
