package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "__run" {
		runDaemon()
		return
	}

	root := &cobra.Command{
		Use:   "amux",
		Short: "a terminal session multiplexer",
	}

	var sessionName string
	var detach bool
	newCmd := &cobra.Command{
		Use:   "new -- CMD [ARGS...]",
		Short: "create a session, optionally attaching to it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureServer(); err != nil {
				return err
			}
			rows, cols := terminalSize()
			resp, err := roundTrip(CreateSessionRequest{
				Name:    sessionName,
				Command: args,
				Rows:    rows,
				Cols:    cols,
			})
			if err != nil {
				return err
			}
			created, ok := resp.(SessionCreatedResponse)
			if !ok {
				return responseError(resp)
			}
			if detach {
				fmt.Printf("Created session %s\n", created.Name)
				return nil
			}
			return runAttach(created.Name)
		},
	}
	newCmd.Flags().StringVarP(&sessionName, "session", "s", "", "session name (auto-assigned if omitted)")
	newCmd.Flags().BoolVarP(&detach, "detach", "d", false, "create without attaching")
	root.AddCommand(newCmd)

	root.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "list sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureServer(); err != nil {
				return err
			}
			return doList()
		},
	})

	var attachTarget string
	attachCmd := &cobra.Command{
		Use:   "attach",
		Short: "stream-attach to a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureServer(); err != nil {
				return err
			}
			return runAttach(attachTarget)
		},
	}
	attachCmd.Flags().StringVarP(&attachTarget, "target", "t", "", "session name")
	attachCmd.MarkFlagRequired("target")
	root.AddCommand(attachCmd)

	var killTarget string
	killCmd := &cobra.Command{
		Use:   "kill",
		Short: "kill a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doKill(killTarget)
		},
	}
	killCmd.Flags().StringVarP(&killTarget, "target", "t", "", "session name")
	killCmd.MarkFlagRequired("target")
	root.AddCommand(killCmd)

	var sendTarget string
	sendCmd := &cobra.Command{
		Use:   "send -t NAME TEXT",
		Short: "inject text into a session's stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doSend(sendTarget, args[0])
		},
	}
	sendCmd.Flags().StringVarP(&sendTarget, "target", "t", "", "session name")
	sendCmd.MarkFlagRequired("target")
	root.AddCommand(sendCmd)

	root.AddCommand(&cobra.Command{
		Use:   "start-server",
		Short: "ensure the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ensureServer()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "kill-server",
		Short: "stop the daemon and all sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopDaemon()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "round-trip health check",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPing()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDaemon is the entry point for the detached daemon process,
// invoked via the hidden "__run" subcommand after re-exec (§5 "fork
// before runtime": the daemonizing fork/Setsid happens in startDaemon,
// entirely before this function, and only then is the server's worker
// pool constructed).
func runDaemon() {
	logFile, err := os.OpenFile(logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	logger := log.New(logFile, "", log.Ldate|log.Ltime|log.Lmicroseconds)

	srv, err := NewServer(logger)
	if err != nil {
		logger.Printf("failed to start: %v", err)
		os.Exit(1)
	}
	logger.Printf("daemon starting (pid %d)", os.Getpid())

	srv.WaitSignals()
	go srv.Serve()

	<-srv.Done()
}
