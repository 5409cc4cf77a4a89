package coremain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pmkol/rdapx/mlog"
)

var svcCfg = &service.Config{
	Name:        "rdapx",
	DisplayName: "rdapx",
	Description: "RDAP query gateway.",
}

var svc service.Service

type serverService struct {
	f *serverFlags

	cancel context.CancelFunc
	done   chan error
}

func (ss *serverService) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	ss.cancel = cancel
	ss.done = make(chan error, 1)
	go func() {
		err := StartServer(ctx, ss.f)
		if err != nil {
			mlog.L().Error("server exited", zap.Error(err))
		}
		ss.done <- err
	}()
	return nil
}

func (ss *serverService) Stop(s service.Service) error {
	if ss.cancel == nil {
		return nil
	}
	ss.cancel()
	return <-ss.done
}

func initService(sf *serverFlags) error {
	s, err := service.New(&serverService{f: sf}, svcCfg)
	if err != nil {
		return fmt.Errorf("cannot init service, %w", err)
	}
	svc = s
	return nil
}

func newSvcInstallCmd(sf *serverFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "install [-c config_file] [-d working_dir]",
		Short: "Install rdapx as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcArgs := []string{"serve", "--as-service"}
			if len(sf.c) > 0 {
				p, err := filepath.Abs(sf.c)
				if err != nil {
					return fmt.Errorf("cannot resolve config path, %w", err)
				}
				svcArgs = append(svcArgs, "-c", p)
			}
			dir := sf.dir
			if len(dir) == 0 {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("cannot get working dir, %w", err)
				}
				dir = wd
			}
			p, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("cannot resolve working dir, %w", err)
			}
			svcArgs = append(svcArgs, "-d", p)
			svcCfg.Arguments = svcArgs

			// Rebuild with the updated arguments.
			if err := initService(sf); err != nil {
				return err
			}
			return svc.Install()
		},
		SilenceUsage: true,
	}
}

func newSvcUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "uninstall",
		Short:        "Uninstall rdapx from system service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Uninstall() },
		SilenceUsage: true,
	}
}

func newSvcStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "start",
		Short:        "Start rdapx system service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Start() },
		SilenceUsage: true,
	}
}

func newSvcStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "stop",
		Short:        "Stop rdapx system service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Stop() },
		SilenceUsage: true,
	}
}

func newSvcRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "restart",
		Short:        "Restart rdapx system service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Restart() },
		SilenceUsage: true,
	}
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Status of rdapx system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := svc.Status()
			if err != nil {
				return fmt.Errorf("cannot get service status, %w", err)
			}
			var out string
			switch s {
			case service.StatusRunning:
				out = "running"
			case service.StatusStopped:
				out = "stopped"
			default:
				out = "unknown"
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
		SilenceUsage: true,
	}
}
