package chatcmder

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/papercomputeco/repcoach/cmd/repcoach/cliconfig"
	"github.com/papercomputeco/repcoach/pkg/coach"
	"github.com/papercomputeco/repcoach/pkg/llm"
	"github.com/papercomputeco/repcoach/pkg/merkle"
	"github.com/papercomputeco/repcoach/tui"
)

const chatLongDesc string = `Send one message to the AI coach and print the reply.

The reply is printed as it streams in. With --render the complete
reply is rendered as Markdown once it has arrived instead.

Images are attached with --image and sent as base64 data URLs.
With --sqlite (or sqlite in the config file) the turn is recorded
in a local conversation DAG that merge and push can work with.

Examples:
  repcoach chat "Plan a 3 day beginner split"
  repcoach chat --units imperial --render "How much should I deadlift?"
  repcoach chat --image form.jpg "Is my squat depth OK?"`

const chatShortDesc string = "Send a message to the coach"

type chatCommander struct {
	endpoint string
	units    string
	images   []string
	render   bool
	noStream bool
	sqlite   string
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&cmder.endpoint, "endpoint", "e", "", "Chat endpoint URL (overrides config)")
	cmd.Flags().StringVarP(&cmder.units, "units", "u", "", "Unit preference: metric or imperial (overrides config)")
	cmd.Flags().StringArrayVarP(&cmder.images, "image", "i", nil, "Image file to attach (repeatable)")
	cmd.Flags().BoolVarP(&cmder.render, "render", "r", false, "Render the final reply as Markdown")
	cmd.Flags().BoolVar(&cmder.noStream, "no-stream", false, "Ask for the whole reply at once")
	cmd.Flags().StringVarP(&cmder.sqlite, "sqlite", "s", "", "Record the turn in this SQLite database")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command, message string) error {
	cfg, log, err := cliconfig.Load(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	clientConfig := cliconfig.ClientConfig(cfg)
	if c.endpoint != "" {
		clientConfig.Endpoint = c.endpoint
	}
	if c.units != "" {
		clientConfig.UnitPreference = llm.UnitPreference(c.units)
	}
	if c.noStream {
		clientConfig.DisableStreaming = true
	}

	client, err := coach.NewClient(clientConfig, log)
	if err != nil {
		return err
	}

	images, err := loadImages(c.images)
	if err != nil {
		return err
	}

	opts := []coach.SessionOption{coach.WithLogger(log)}
	dbPath := c.sqlite
	if dbPath == "" {
		dbPath = cfg.SQLite
	}
	if dbPath != "" {
		storer, err := merkle.NewSQLiteStorer(dbPath)
		if err != nil {
			return fmt.Errorf("could not open database %s: %w", dbPath, err)
		}
		defer storer.Close()
		opts = append(opts, coach.WithRecorder(storer, clientConfig.UserID, clientConfig.UnitPreference))
		log.Debug("recording conversation", zap.String("path", dbPath))
	}

	session := coach.NewSession(client, opts...)
	out := cmd.OutOrStdout()

	var onUpdate func(string)
	if !c.render {
		onUpdate = deltaPrinter(out)
	}

	reply, err := session.Send(ctx, message, images, onUpdate)
	if err != nil {
		if reply != "" && !c.render {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), coach.FailureMessage)
		return fmt.Errorf("chat failed: %w", err)
	}

	if c.render {
		fmt.Fprintln(out, tui.RenderMarkdown(reply, terminalWidth(out)))
		return nil
	}

	fmt.Fprintln(out)
	return nil
}

// deltaPrinter writes only what each update adds; the reply only ever grows.
func deltaPrinter(w io.Writer) func(string) {
	printed := 0
	return func(text string) {
		if len(text) <= printed {
			return
		}
		_, _ = io.WriteString(w, text[printed:])
		printed = len(text)
	}
}

func loadImages(paths []string) ([]coach.Image, error) {
	images := make([]coach.Image, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read image %s: %w", path, err)
		}

		mediaType := llm.ContentTypeOf(data)
		if !strings.HasPrefix(mediaType, "image/") {
			return nil, fmt.Errorf("%s is not an image (detected %s)", path, mediaType)
		}

		images = append(images, coach.Image{MediaType: mediaType, Data: data})
	}
	return images, nil
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return tui.DefaultWidth
	}

	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return tui.DefaultWidth
	}
	return width
}
