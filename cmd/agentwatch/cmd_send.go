package main

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"example.com/agentwatch/internal/hook"
	"example.com/agentwatch/internal/logging"
)

func init() {
	f := sendCmd.Flags()
	f.String("source-app", "", "source application name (required)")
	f.String("event-type", "", "hook event type, e.g. PreToolUse (required)")
	f.String("server-url", hook.DefaultServerURL, "collector events endpoint")
	f.Bool("add-chat", false, "attach the session transcript")
	_ = sendCmd.MarkFlagRequired("source-app")
	_ = sendCmd.MarkFlagRequired("event-type")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Forward one hook invocation (JSON on stdin) to the collector",
	Long: "send reads the hook payload from stdin and posts it as an event. " +
		"It always exits 0 so a collector outage never blocks the agent.",
	RunE: runSend,
}

func runSend(cmd *cobra.Command, _ []string) error {
	logging.Init(logging.Config{Level: "warn", Format: "console", Output: os.Stderr})
	log := logging.For("send")

	f := cmd.Flags()
	sourceApp, _ := f.GetString("source-app")
	eventType, _ := f.GetString("event-type")
	serverURL, _ := f.GetString("server-url")
	addChat, _ := f.GetBool("add-chat")

	stdin, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		log.Warn().Err(err).Msg("read stdin")
		return nil
	}
	ev, err := hook.BuildEvent(stdin, hook.Options{SourceApp: sourceApp, EventType: eventType, AddChat: addChat})
	if err != nil {
		log.Warn().Err(err).Msg("build event")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), hook.ForwardTimeout)
	defer cancel()
	if err := hook.Forward(ctx, &http.Client{Timeout: hook.ForwardTimeout}, serverURL, ev); err != nil {
		log.Warn().Err(err).Str("url", serverURL).Msg("forward event")
	}
	return nil
}
