package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Hara602/dirSentry/internal/journal"
	"github.com/Hara602/dirSentry/internal/monitor"
	"github.com/Hara602/dirSentry/internal/port"
	"github.com/Hara602/dirSentry/internal/sysutil"
)

const disableTimeout = 5 * time.Second

var monitorCmd = &cobra.Command{
	Use:   "monitor <directory>",
	Short: "Protect a directory and watch blocked attempts",
	Long: `Connects to the agent, enables protection for <directory> and prints every
blocked attempt until a key is pressed. Protection is disabled on exit.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().Int("requests", monitor.DefaultRequests, "number of posted receives")
	monitorCmd.Flags().Int("workers", monitor.DefaultWorkers, "number of worker goroutines")
	monitorCmd.Flags().String("journal", "", "history database (empty string in config disables it)")
	viper.BindPFlag("monitor.requests", monitorCmd.Flags().Lookup("requests"))
	viper.BindPFlag("monitor.workers", monitorCmd.Flags().Lookup("workers"))
	viper.BindPFlag("monitor.journal", monitorCmd.Flags().Lookup("journal"))

	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	log := sysutil.Log

	dir, err := sysutil.NormalizeDir(args[0])
	if err != nil {
		return fmt.Errorf("invalid directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recorder monitor.Recorder
	if cfg.Monitor.Journal != "" {
		j, err := journal.Open(cfg.Monitor.Journal)
		if err != nil {
			log.Warn("journal disabled", zap.Error(err))
		} else {
			defer j.Close()
			recorder = j
		}
	}

	cp, err := port.Connect(ctx, cfg.Port.Socket, log.Named("port"))
	if err != nil {
		return fmt.Errorf("connect to agent: %w", err)
	}
	defer cp.Close()

	client, err := monitor.New(cp, monitor.Config{
		Requests: cfg.Monitor.Requests,
		Workers:  cfg.Monitor.Workers,
	}, monitor.NewRenderer(log.Named("monitor"), recorder), log.Named("monitor"))
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(runCtx) }()

	if _, err := client.Enable(ctx, dir); err != nil {
		return fmt.Errorf("enable protection for %s: %w", dir, err)
	}
	log.Info("🔒 Protection enabled", zap.String("dir", dir))

	restore := prepareStdin()
	defer restore()
	fmt.Fprintln(cmd.OutOrStdout(), "Press any key to stop protection...")

	var lastErr error
	select {
	case <-waitKey(os.Stdin):
	case <-ctx.Done():
	case lastErr = <-runErr:
		runErr = nil
		log.Error("monitor loop stopped", zap.Error(lastErr))
	}
	restore()

	if err := stopProtection(client, cancel, disableTimeout); err != nil {
		lastErr = err
	} else {
		log.Info("🔓 Protection disabled")
	}

	if runErr != nil {
		<-runErr
	}
	return lastErr
}

type disabler interface {
	Disable(ctx context.Context) (port.Status, error)
}

// stopProtection 先关闭保护再停止工作协程, 期间到达的拒绝记录仍会被回复
func stopProtection(d disabler, stopWorkers context.CancelFunc, timeout time.Duration) error {
	defer stopWorkers()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := d.Disable(ctx); err != nil {
		return fmt.Errorf("disable protection: %w", err)
	}
	return nil
}

// prepareStdin 终端下切换到 raw 模式以读取单个按键
func prepareStdin() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}
	}
	restored := false
	return func() {
		if !restored {
			term.Restore(fd, old)
			restored = true
		}
	}
}

// waitKey 终端下读一个字节, 否则读一行
func waitKey(r io.Reader) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			var b [1]byte
			f.Read(b[:])
			return
		}
		bufio.NewReader(r).ReadString('\n')
	}()
	return done
}
