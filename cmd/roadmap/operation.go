package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/roadmap-manager/roadmap/internal/bridge"
	"github.com/roadmap-manager/roadmap/internal/dispatch"
	"github.com/spf13/cobra"
)

// jsonLineSink prints each UI event as one JSON object per line.
type jsonLineSink struct {
	enc *json.Encoder
}

func newJSONLineSink(w io.Writer) *jsonLineSink {
	return &jsonLineSink{enc: json.NewEncoder(w)}
}

func (s *jsonLineSink) Emit(name string, payload any) error {
	return s.enc.Encode(bridge.Message{Event: name, Data: payload})
}

func newOperationCmd(op string) *cobra.Command {
	var (
		configPath string
		sessionID  string
		model      string
	)

	short := "Send a navigation prompt to the agent service"
	if op == dispatch.OpModalPrompt {
		short = "Send a modal prompt to the agent service"
	}

	cmd := &cobra.Command{
		Use:   op + " <prompt...>",
		Short: short,
		Long:  short + ". Streamed events are printed as JSON lines.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, op, configPath, strings.Join(args, " "), sessionID, model)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to continue")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model as provider/model")
	return cmd
}

func runOperation(cmd *cobra.Command, op, configPath, prompt, sessionID, model string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	m, err := dispatch.ParseModel(model)
	if err != nil {
		return err
	}

	var rec dispatch.Recorder
	if h, err := openHistory(cfg); err != nil {
		log.Printf("%s: history disabled: %v", op, err)
	} else {
		rec = h
	}

	d, err := newDispatcher(cfg, newJSONLineSink(cmd.OutOrStdout()), rec)
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch op {
	case dispatch.OpNavigate:
		err = d.Navigate(ctx, prompt, sessionID, m)
	case dispatch.OpModalPrompt:
		err = d.ModalPrompt(ctx, prompt, sessionID, m)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	return err
}
