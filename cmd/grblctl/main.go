package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mastercactapus/grblctl/machine"
	"github.com/mastercactapus/grblctl/machine/grbl"
	"github.com/mastercactapus/grblctl/spjs"
	"github.com/mastercactapus/grblctl/stream"
	"github.com/mastercactapus/grblctl/trafficlog"
	"github.com/mastercactapus/grblctl/transport"
)

// link is a transport together with its receive loop.
type link struct {
	machine.Transport
	readLines func(ctx context.Context, fn func(string)) error
	close     func() error
}

func openLink(cfg Config, logger *slog.Logger) (*link, error) {
	if cfg.SPJS != "" {
		c := spjs.New(cfg.SPJS, cfg.Port, spjs.Options{Baud: cfg.Baud, Logger: logger})
		return &link{Transport: c, readLines: c.Run, close: c.Close}, nil
	}
	conn, err := transport.OpenSerial(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, err
	}
	return &link{Transport: conn, readLines: conn.ReadLines, close: conn.Close}, nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configFile := fs.String("config", "grblctl.yaml", "YAML configuration file.")
	listPorts := fs.Bool("list-ports", false, "List serial ports and exit.")
	interactive := fs.Bool("console", false, "Start an interactive console.")
	flagCfg := defaultConfig()
	flagCfg.bindFlags(fs)
	fs.Parse(os.Args[1:])

	if *listPorts {
		ports, err := transport.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// flags given on the command line win over the file
	overrides := flag.NewFlagSet("overrides", flag.ContinueOnError)
	cfg.bindFlags(overrides)
	fs.Visit(func(f *flag.Flag) {
		if overrides.Lookup(f.Name) != nil {
			overrides.Set(f.Name, f.Value.String())
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var con *console
	logOut := io.Writer(os.Stderr)
	if *interactive {
		con, err = newConsole()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logOut = con.rl.Stderr()
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(ctx, cancel, cfg, logger, con); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg Config, logger *slog.Logger, con *console) error {
	l, err := openLink(cfg, logger)
	if err != nil {
		return err
	}
	defer l.close()

	c := grbl.New(l, grbl.Config{PollInterval: cfg.PollInterval, Logger: logger})
	q := stream.New(c, logger.With("component", "stream"))
	c.SetQueue(q)
	c.SetPolling(true)

	if cfg.TrafficLog != "" {
		rec, err := trafficlog.Open(cfg.TrafficLog)
		if err != nil {
			return err
		}
		defer rec.Close()
		defer c.Traffic.Subscribe(rec.Record)()
		logger.Info("recording traffic", "file", cfg.TrafficLog, "session", rec.Session())
	}

	a := newAPI(c, q, cfg, logger.With("component", "api"))
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			logger.Debug("http", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
			a.ServeHTTP(w, req)
		}),
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	start := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	start(func() { c.Run(ctx) })
	start(func() { q.Run(ctx, cfg.PollInterval) })
	start(func() { a.forward(ctx, cfg.PollInterval) })
	start(func() {
		err := l.readLines(ctx, c.HandleLine)
		if ctx.Err() == nil {
			errCh <- fmt.Errorf("connection lost: %w", err)
		}
	})
	start(func() {
		logger.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})
	if con != nil {
		start(func() { con.Run(ctx, cancel, c) })
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
	a.sse.Shutdown()
	l.close()
	wg.Wait()
	return err
}
