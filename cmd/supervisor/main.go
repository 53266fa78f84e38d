// Command supervisor starts, stops, and reports on the copilot service
// binary. It has no teacher precedent (the teacher is a single long-running
// main()), so its cobra shape and subcommand layout are adopted from
// NimbleMarkets-dbn-go's cmd/ tree, and its PID-file bookkeeping follows
// the small sidecar-file idiom the teacher uses for chat_id.txt.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const serviceName = "copilot"

var (
	pidDir      string
	copilotBin  string
	healthzAddr string
)

func pidFile() string {
	return filepath.Join(pidDir, serviceName+".pid")
}

var rootCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Start, stop, and monitor the copilot service",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the copilot service in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid, running := readRunningPID(); running {
			fmt.Printf("copilot already running (pid %d)\n", pid)
			return nil
		}

		if err := os.MkdirAll(pidDir, 0o755); err != nil {
			return fmt.Errorf("create pid dir: %w", err)
		}

		logPath := filepath.Join(pidDir, serviceName+".log")
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()

		proc := exec.Command(copilotBin)
		proc.Stdout = logFile
		proc.Stderr = logFile
		proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

		if err := proc.Start(); err != nil {
			return fmt.Errorf("start copilot: %w", err)
		}

		if err := os.WriteFile(pidFile(), []byte(strconv.Itoa(proc.Process.Pid)), 0o644); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}

		fmt.Printf("copilot started (pid %d), logging to %s\n", proc.Process.Pid, logPath)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running copilot service",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, running := readRunningPID()
		if !running {
			fmt.Println("copilot is not running")
			return nil
		}

		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("find process %d: %w", pid, err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal process %d: %w", pid, err)
		}

		for i := 0; i < 20; i++ {
			if !processAlive(pid) {
				break
			}
			time.Sleep(500 * time.Millisecond)
		}
		if processAlive(pid) {
			proc.Signal(syscall.SIGKILL)
		}

		os.Remove(pidFile())
		fmt.Println("copilot stopped")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the copilot service",
	RunE: func(cmd *cobra.Command, args []string) error {
		stopCmd.RunE(cmd, args)
		return startCmd.RunE(cmd, args)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether copilot is running and healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, running := readRunningPID()
		if !running {
			fmt.Println("copilot: stopped")
			return nil
		}

		fmt.Printf("copilot: running (pid %d)\n", pid)

		resp, err := http.Get(strings.TrimRight(healthzAddr, "/") + "/healthz")
		if err != nil {
			fmt.Printf("healthz: unreachable (%v)\n", err)
			return nil
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("healthz: healthy")
		} else {
			fmt.Printf("healthz: unhealthy (status %d)\n", resp.StatusCode)
		}
		return nil
	},
}

// readRunningPID reads the recorded PID and confirms the process is still
// alive, self-healing a stale PID file left behind by a crash.
func readRunningPID() (int, bool) {
	data, err := os.ReadFile(pidFile())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	if !processAlive(pid) {
		os.Remove(pidFile())
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&pidDir, "pid-dir", ".pids", "directory holding service PID and log files")
	rootCmd.PersistentFlags().StringVar(&copilotBin, "copilot-bin", "./copilot", "path to the copilot service binary")
	rootCmd.PersistentFlags().StringVar(&healthzAddr, "http-addr", "http://localhost:8080", "base URL the copilot HTTP server listens on")

	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
