package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Hara602/dirSentry/internal/engine"
	"github.com/Hara602/dirSentry/internal/guardfs"
	"github.com/Hara602/dirSentry/internal/model"
	"github.com/Hara602/dirSentry/internal/policy"
	"github.com/Hara602/dirSentry/internal/port"
	"github.com/Hara602/dirSentry/internal/sysutil"
	"github.com/Hara602/dirSentry/internal/tamper"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the interception agent (requires root)",
	Long: `Starts the control port, the decision engine and, when guard.source and
guard.mountpoint are configured, a guarded loopback mount of the source directory.
Protection stays off until a monitor enables it.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("source", "", "backing directory exposed through the guard")
	agentCmd.Flags().String("mountpoint", "", "where the guarded view is mounted")
	agentCmd.Flags().Bool("tamper", false, "audit writes that bypass the guarded mount")
	viper.BindPFlag("guard.source", agentCmd.Flags().Lookup("source"))
	viper.BindPFlag("guard.mountpoint", agentCmd.Flags().Lookup("mountpoint"))
	viper.BindPFlag("tamper.enabled", agentCmd.Flags().Lookup("tamper"))

	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	// FUSE 挂载和 Fanotify 都需要 Root 权限
	if os.Geteuid() != 0 {
		return errors.New("must run as root (required by FUSE/Fanotify)")
	}
	log := sysutil.Log
	log.Info("🛡️ dirSentry Agent Starting...")

	// 初始化核心模块 (依赖注入)
	store := policy.NewStore()
	srv := port.NewServer(cfg.Port.Socket, port.NewControlChannel(store, log.Named("control")), log.Named("port"))
	srv.OnDisconnect = func(port.Peer) {
		if snap := store.Snapshot(); snap.Enabled {
			log.Info("protection remains active", zap.String("path", snap.Path))
		}
	}
	eng := engine.New(store, srv, sysutil.GopsutilInspector{}, log.Named("engine"))

	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Close()
	// 卸载时关闭保护
	defer store.Clear()

	var source, mountpoint string
	if cfg.GuardEnabled() {
		var err error
		if source, err = filepath.EvalSymlinks(cfg.Guard.Source); err != nil {
			return fmt.Errorf("guard source: %w", err)
		}
		if mountpoint, err = filepath.EvalSymlinks(cfg.Guard.MountPoint); err != nil {
			return fmt.Errorf("guard mountpoint: %w", err)
		}
		if err := sysutil.CheckLocalFilesystem(source); err != nil {
			return fmt.Errorf("refusing to guard %s: %w", source, err)
		}

		guard := guardfs.New(eng, log.Named("guard"))
		m, err := guard.MountGuard(source, mountpoint, guardfs.MountOptions{
			AllowOther: cfg.Guard.AllowOther,
			Debug:      cfg.Guard.Debug,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := m.Unmount(); err != nil {
				log.Error("Unmount failed", zap.Error(err))
			}
		}()
	}

	var tamperEvents <-chan model.TamperEvent
	if cfg.Tamper.Enabled {
		if source == "" {
			return errors.New("tamper.enabled requires guard.source and guard.mountpoint")
		}
		w, err := tamper.New(tamper.Options{
			Source:     source,
			MountPoint: mountpoint,
			Policy:     store,
			Inspector:  sysutil.GopsutilInspector{},
			Logger:     log.Named("tamper"),
		})
		if err != nil {
			return err
		}
		w.Start()
		defer w.Stop()
		tamperEvents = w.Events()
		log.Info("👀 Tamper audit started", zap.String("source", source))
	}

	// 捕获操作系统信号，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case ev := <-tamperEvents:
			log.Warn("🚨 Protected file written outside the guard",
				zap.String("op", ev.Operation),
				zap.String("file", ev.FilePath),
				zap.String("process", ev.ProcName),
				zap.Int32("pid", ev.PID),
			)
		case <-sigCh:
			log.Info("Shutting down...")
			return nil
		}
	}
}
