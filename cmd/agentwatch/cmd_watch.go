package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"example.com/agentwatch/internal/aggregator"
	"example.com/agentwatch/internal/chartview"
	"example.com/agentwatch/internal/domain"
	"example.com/agentwatch/internal/hook"
	"example.com/agentwatch/internal/logging"
	"example.com/agentwatch/internal/streamclient"
)

func init() {
	f := watchCmd.Flags()
	f.String("server-url", hook.DefaultServerURL, "collector URL")
	f.String("range", string(aggregator.Range1m), "time range: 1m, 3m, 5m or 10m")
	f.String("agent", "", "only chart this agent id (source_app:session prefix)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Chart the live event stream in the terminal",
	RunE:  runWatch,
}

const redrawInterval = time.Second

func runWatch(cmd *cobra.Command, _ []string) error {
	logging.Init(logging.Config{Level: "warn", Format: "console", Output: os.Stderr})

	f := cmd.Flags()
	serverURL, _ := f.GetString("server-url")
	rangeFlag, _ := f.GetString("range")
	agent, _ := f.GetString("agent")

	rng, err := aggregator.ParseRange(rangeFlag)
	if err != nil {
		return err
	}
	url, err := streamclient.StreamURL(serverURL)
	if err != nil {
		return err
	}
	agg, err := aggregator.New(aggregator.Options{Range: rng, AgentIDFilter: agent})
	if err != nil {
		return err
	}
	defer agg.Cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- streamclient.Subscribe(ctx, url, streamclient.Handlers{
			OnInitial: func(events []domain.Event) {
				agg.ClearData()
				agg.AddEvents(events)
			},
			OnEvent: agg.AddEvent,
		})
	}()

	out := cmd.OutOrStdout()
	ticker := time.NewTicker(redrawInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-errc:
			return err
		case <-ticker.C:
			frame := chartview.Render(agg.GetChartData(), chartview.Stats{
				Range:     rng,
				Agent:     agent,
				Agents:    agg.UniqueAgentCount(),
				ToolCalls: agg.ToolCallCount(),
				Total:     agg.TotalCount(),
			})
			// Clear the screen and home the cursor before each frame.
			fmt.Fprint(out, "\x1b[H\x1b[2J"+frame)
		}
	}
}
