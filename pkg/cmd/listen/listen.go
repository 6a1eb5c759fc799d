package listen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/cmd/util"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/config"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing"
)

func NewListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "process live telemetry frames received via NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startListener(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&config.FrameSubject,
		"frame-subject",
		"telemetry.frames",
		"subject to receive telemetry frames from")
	cmd.Flags().StringVar(&config.OutputSubject,
		"output-subject",
		"",
		"subject to publish the augmented frames to (empty: don't publish)")
	return cmd
}

//nolint:funlen // by design
func startListener(ctx context.Context) error {
	logger, err := util.SetupLogger()
	if err != nil {
		return err
	}
	if config.EnableTelemetry {
		telemetry, err := config.SetupTelemetry(ctx)
		if err != nil {
			logger.Warn("could not setup telemetry", log.ErrorField(err))
		} else {
			defer telemetry.Shutdown()
		}
	}
	if err := util.WaitForServices(); err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	nc, err := nats.Connect(config.NatsURL, nats.Name("ist"))
	if err != nil {
		return fmt.Errorf("connect to nats %s: %w", config.NatsURL, err)
	}
	defer nc.Close()

	sinks, err := util.SetupSinks(ctx, nc)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warn("error closing sinks", log.ErrorField(err))
		}
	}()

	proc, err := util.NewSession(ctx,
		processing.WithLapHandler(sinks.Dispatcher.Handle))
	if err != nil {
		return err
	}
	defer proc.Close()
	if config.WatchLayout && config.LayoutFile != "" {
		if err := util.WatchLayout(ctx, config.LayoutFile, proc); err != nil {
			return err
		}
	}

	msgs := make(chan *nats.Msg, 256)
	sub, err := nc.ChanSubscribe(config.FrameSubject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", config.FrameSubject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			logger.Debug("error unsubscribing", log.ErrorField(err))
		}
	}()
	logger.Info("listening for frames",
		log.String("subject", config.FrameSubject),
		log.String("session", proc.SessionID()))

	h := &handler{proc: proc, nc: nc, subject: config.OutputSubject, l: logger}
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", log.Any("stats", proc.Statistics()))
			return nil
		case msg := <-msgs:
			h.handle(msg.Data)
		}
	}
}

// publisher is the part of *nats.Conn used to publish frames.
type publisher interface {
	Publish(subj string, data []byte) error
}

type handler struct {
	proc    *processing.Processor
	nc      publisher
	subject string
	l       *log.Logger
}

func (h *handler) handle(data []byte) {
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		h.l.Warn("could not decode frame", log.ErrorField(err))
		return
	}
	out := h.proc.ProcessFrame(frame)
	if config.PrintFrames {
		h.l.Debug("frame", log.Any("frame", out))
	}
	if h.subject == "" {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		h.l.Warn("could not encode frame", log.ErrorField(err))
		return
	}
	if err := h.nc.Publish(h.subject, payload); err != nil {
		h.l.Warn("could not publish frame", log.ErrorField(err))
	}
}
