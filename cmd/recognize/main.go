// Command recognize connects to a Julius module server and prints
// recognition results as they arrive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	applogger "github.com/saker-ai/julius-bridge/internal/logger"
	"github.com/saker-ai/julius-bridge/pkg/julius"
)

func main() {
	defaults := julius.DefaultConfig()
	host := flag.String("host", defaults.Host, "module server host")
	port := flag.Int("port", defaults.Port, "module server port")
	encoding := flag.String("encoding", defaults.Encoding, "server text encoding (utf-8, euc-jp, shift_jis)")
	command := flag.String("command", "", "module command to send after connecting, e.g. STATUS")
	count := flag.Int("n", 0, "stop after n sentences (0 runs until interrupted)")
	words := flag.Bool("words", false, "print per-word confidences")
	verbose := flag.Bool("v", false, "log protocol traffic to stderr")
	flag.Usage = usage
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := applogger.New(applogger.Config{Level: level, Format: "console", Stderr: true})
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := defaults
	cfg.Host = *host
	cfg.Port = *port
	cfg.Encoding = *encoding
	if err := run(ctx, cfg, logger, *command, *count, *words); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "recognize: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg julius.Config, logger *zap.Logger, command string, count int, words bool) error {
	client, err := julius.NewClient(cfg, julius.Hooks{}, logger)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	if _, err := client.Drain(); err != nil {
		return err
	}
	if command != "" {
		if err := client.Send(ctx, julius.Command(command), 5*time.Second); err != nil {
			return err
		}
	}

	for n := 0; count <= 0 || n < count; n++ {
		sentence, err := client.Recognize(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%.3f\t%s\n", sentence.Score, sentence)
		if words {
			for _, w := range sentence.Words {
				fmt.Printf("\t%s\t%.3f\n", w, w.Confidence)
			}
		}
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags]\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, strings.TrimSpace(`
Connects to a Julius module server (julius -module) and prints one line per
recognized sentence: the score, a tab, and the lowercased words.`))
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}
