// Command rudp-echo runs an rudp echo server or client, for manual testing
// and as a worked example of the package's public API.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/vela-net/rudp/pkg/rudp"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else if x, err := readEnv(pflag.Arg(0)); err == nil {
		e = x
	} else {
		fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
		os.Exit(1)
	}

	var c rudp.Config
	if err := c.UnmarshalEnv(e, false); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	log, reopenLog, err := rudp.NewLogger(&c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open log file: %v\n", err)
		os.Exit(1)
	}

	hch := make(chan os.Signal, 1)
	signal.Notify(hch, syscall.SIGHUP)
	go func() {
		for range hch {
			if err := reopenLog(); err != nil {
				log.Warn().Err(err).Msg("log file reopen failed")
			} else {
				log.Info().Msg("log file reopened")
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.DialAddr != "" {
		err = runClient(ctx, &c, log)
	} else {
		err = runServer(ctx, &c, log)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, c *rudp.Config, log zerolog.Logger) error {
	srv := rudp.NewServer(
		rudp.WithServerLogger(log.With().Str("component", "server").Logger()),
	)
	if err := srv.ListenAt(c.ListenAddr); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info().Str("addr", srv.Address()).Msg("rudp-echo: listening")

	if c.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			srv.WritePrometheus(w)
		})
		go func() {
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	for {
		sess, err := srv.Accept()
		if err != nil {
			return nil
		}
		go echoSession(sess, log)
	}
}

func echoSession(sess *rudp.Session, log zerolog.Logger) {
	buf := make([]byte, rudp.MaxPayloadSize)
	ticker := time.NewTicker(rudp.TickInterval)
	defer ticker.Stop()

	for range ticker.C {
		switch sess.Status() {
		case rudp.StatusExit, rudp.StatusClosed:
			return
		}
		n := sess.Recv(buf)
		if n < 0 {
			return
		}
		if n == 0 {
			continue
		}
		if sess.Send(buf[:n]) < 0 {
			log.Debug().Uint32("session_id", sess.SessionID()).Msg("rudp-echo: send failed, dropping echo")
		}
	}
}

func runClient(ctx context.Context, c *rudp.Config, log zerolog.Logger) error {
	cl := rudp.NewClient(
		rudp.WithClientLogger(log.With().Str("component", "client").Logger()),
	)
	if err := cl.Dial(c.DialAddr); err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer cl.Close()

	go func() {
		<-ctx.Done()
		cl.Close()
	}()

	sess := cl.Session()
	scanner := bufio.NewScanner(os.Stdin)
	buf := make([]byte, rudp.MaxPayloadSize)

	go func() {
		for {
			n := sess.Recv(buf)
			switch {
			case n < 0:
				return
			case n > 0:
				os.Stdout.Write(buf[:n])
				os.Stdout.Write([]byte("\n"))
			default:
				time.Sleep(rudp.TickInterval)
			}
		}
	}()

	for scanner.Scan() {
		if sess.Send(scanner.Bytes()) < 0 {
			return fmt.Errorf("session no longer connected")
		}
	}
	return nil
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
