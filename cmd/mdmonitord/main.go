// Package main is mdmonitord, the thin daemon entrypoint wiring
// pkg/mdmonitor's event detection and alerting against a polled
// /proc/mdstat. It does not move spares between arrays
// (mdmonitor.PlanMigrations is not called), following the teacher's cobra
// root-command shape (cmd/vorteil/cli.go's rootCmd + PersistentPreRunE
// logging setup).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdcore/mdcore/pkg/mdconfig"
	"github.com/mdcore/mdcore/pkg/mdlog"
	"github.com/mdcore/mdcore/pkg/mdmonitor"
)

var (
	flagDaemonise bool
	flagPidFile   string
	flagDelay     int
	flagProgram   string
	flagMailAddr  string
	flagMailFrom  string
	flagConfig    string
	flagDebug     bool
	flagOneshot   bool
)

var log mdlog.Logger

var rootCmd = &cobra.Command{
	Use:   "mdmonitord",
	Short: "Monitor software RAID arrays and raise alerts on state changes",
	Long: `mdmonitord polls /proc/mdstat on an interval, detects the event set
spec'd for array monitoring (failures, degraded state, rebuild
progress, spare activity), and dispatches the configured alert actions
(shell command, mail, syslog). It does not move spares between arrays.`,
	RunE: runMonitor,
}

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "D", false, "enable debug logging")
	rootCmd.Flags().BoolVarP(&flagDaemonise, "daemonise", "b", false, "fork into the background")
	rootCmd.Flags().StringVarP(&flagPidFile, "pid-file", "p", mdmonitor.DefaultPIDFile, "write the daemon pid to this file")
	rootCmd.Flags().IntVarP(&flagDelay, "delay", "d", 60, "seconds between /proc/mdstat polls")
	rootCmd.Flags().StringVar(&flagProgram, "program", "", "shell command run on every event, argv-extended with event/array/component")
	rootCmd.Flags().StringVar(&flagMailAddr, "mail", "", "mail address to alert on mail-worthy events")
	rootCmd.Flags().StringVar(&flagMailFrom, "mail-from", "", "From: address for mail alerts")
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to mdadm.conf (default /etc/mdadm.conf)")
	rootCmd.Flags().BoolVar(&flagOneshot, "oneshot", false, "poll once, fire due alerts, then exit")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log = mdlog.New(os.Stderr, flagDebug)
		return nil
	}
}

func main() {
	commandInit()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, closer, err := mdconfig.LoadDefaultFile(flagConfig)
	if err == nil {
		defer closer.Close()
		if flagProgram == "" {
			flagProgram = cfg.Program()
		}
		if flagMailAddr == "" {
			flagMailAddr = cfg.MailAddr()
		}
		if flagMailFrom == "" {
			flagMailFrom = cfg.MailFrom()
		}
		if d := cfg.MonitorDelay(); d > 0 && !cmd.Flags().Changed("delay") {
			flagDelay = d
		}
	} else {
		log.Warnf("no mdadm.conf loaded, using flags/defaults only: %v", err)
	}

	if flagDaemonise {
		if err := mdmonitor.Daemonize(flagPidFile); err != nil {
			return fmt.Errorf("mdmonitord: daemonising: %w", err)
		}
	}

	hostName, _ := os.Hostname()
	alerters := buildAlerters(hostName)
	recent, err := mdmonitor.NewRecentEvents()
	if err != nil {
		return fmt.Errorf("mdmonitord: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Infof("received termination signal, shutting down")
		cancel()
	}()

	prev := map[string]mdmonitor.Snapshot{}
	for {
		snaps, err := pollOnce()
		if err != nil {
			log.Errorf("polling /proc/mdstat: %v", err)
		} else {
			for _, s := range snaps {
				events := mdmonitor.Detect(prev[s.Array], s, mdmonitor.RebuildGranularity)
				for _, ev := range events {
					recent.Record(ev)
					if err := alerters.Alert(ctx, ev); err != nil {
						log.Errorf("alerting %s on %s: %v", ev.Name, ev.Array, err)
					}
				}
				prev[s.Array] = s
			}
		}

		if flagOneshot {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(flagDelay) * time.Second):
		}
	}
}

func pollOnce() ([]mdmonitor.Snapshot, error) {
	f, err := os.Open("/proc/mdstat")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return pollOnceFrom(f)
}

func pollOnceFrom(r io.Reader) ([]mdmonitor.Snapshot, error) {
	return mdmonitor.ParseMdstat(r)
}

func buildAlerters(hostName string) mdmonitor.Alerters {
	var alerters mdmonitor.Alerters
	if flagProgram != "" {
		alerters = append(alerters, mdmonitor.ExecAlerter{Command: flagProgram, Runner: exec.CommandContext})
	}
	if flagMailAddr != "" {
		alerters = append(alerters, mdmonitor.MailAlerter{
			To:       flagMailAddr,
			From:     flagMailFrom,
			HostName: hostName,
			MTA:      sendmailPipe{},
		})
	}
	if w, err := mdmonitor.NewSyslogWriter(); err == nil {
		alerters = append(alerters, mdmonitor.SyslogAlerter{Writer: w})
	} else {
		log.Warnf("syslog unavailable, skipping syslog alerts: %v", err)
	}
	return alerters
}
