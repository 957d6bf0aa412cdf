package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func workCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "work [task-id]",
		Short: "Time work on a task; p pauses, r resumes, s or Ctrl-C stops and logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			timer := s.client.NewWorkTimer(taskID)
			if err := timer.Start(); err != nil {
				return err
			}
			fmt.Println("Timer running. Commands: p (pause), r (resume), s (stop).")

			sig, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lines := make(chan string)
			go func() {
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					lines <- strings.TrimSpace(sc.Text())
				}
				close(lines)
			}()

		loop:
			for {
				select {
				case <-sig.Done():
					break loop
				case line, ok := <-lines:
					if !ok {
						break loop
					}
					switch line {
					case "p":
						err = timer.Pause()
					case "r":
						err = timer.Resume()
					case "s":
						break loop
					default:
						continue
					}
					if err != nil {
						fmt.Println(err)
						continue
					}
					fmt.Printf("%s, %s so far\n", timer.State(), timer.Elapsed().Round(time.Second))
				}
			}

			total, err := timer.Stop(context.WithoutCancel(cmd.Context()))
			if err != nil {
				return fmt.Errorf("worked %s but could not log it: %w", total.Round(time.Second), err)
			}
			fmt.Printf("Logged %s\n", total.Round(time.Second))
			return nil
		},
	}
}
