package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/blacktop/pagecast/internal/config"
	"github.com/blacktop/pagecast/internal/media"
	"github.com/blacktop/pagecast/internal/metrics"
	"github.com/blacktop/pagecast/internal/publish"
	"github.com/blacktop/pagecast/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	messageFlag string
	imagePath   string
	imageAlt    string
	channelFlag string
	targetsFlag []string
	dryRun      bool
)

var envTargets = []string{config.MirrorBluesky, config.MirrorMastodon, config.MirrorTwitter}

const defaultAltText = "Image attached via pagecast"

func newPostCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post [message]",
		Short: "Publish one post right away",
		Long: "post publishes a single update, either to a configured channel's Facebook Page " +
			"(and its mirrors) with --channel, or to the env configured social targets with --target.",
		RunE: runPost,
		Example: `  pagecast post --channel tour --image images/milford.jpg "Milford Sound at dawn"
  pagecast post "Ship it!" --target mastodon --target bluesky
  echo "Visa office closed Friday" | pagecast post --target all --dry-run`,
	}

	cmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text to post")
	cmd.Flags().StringVar(&imagePath, "image", "", "Path to an image to attach")
	cmd.Flags().StringVar(&imageAlt, "alt-text", "", "Alternative text to describe the image")
	cmd.Flags().StringVar(&channelFlag, "channel", "", "Post to this queue channel's page and mirrors")
	cmd.Flags().StringSliceVar(&targetsFlag, "target", nil, "Targets to post to (bluesky, mastodon, twitter, or all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print actions without posting")
	cmd.Flags().SortFlags = false
	cmd.MarkFlagsMutuallyExclusive("channel", "target")

	return cmd
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	message, err := resolveMessage(cmd, args)
	if err != nil {
		return err
	}

	req := publish.Request{
		Message:   message,
		ImagePath: imagePath,
		ImageAlt:  strings.TrimSpace(imageAlt),
	}
	if req.ImageAlt == "" && req.ImagePath != "" {
		req.ImageAlt = defaultAltText
	}

	var posters []publish.Poster
	if channelFlag != "" {
		ch, cfg, err := queueChannel(channelFlag)
		if err != nil {
			return err
		}
		if dryRun {
			return printDryRun(cmd.OutOrStdout(), append([]string{"facebook page " + ch.PageID}, ch.Mirrors...), req)
		}
		d := &deps{
			cfg:     cfg,
			graph:   newGraph(cfg),
			images:  media.New(cfg.ImagesDir),
			metrics: metrics.New(prometheus.NewRegistry()),
			queues:  map[string]*queue.File{},
		}
		p, err := d.pagePoster(ctx, ch)
		if err != nil {
			return err
		}
		posters = append(posters, p)
	} else {
		targets, err := normalizeTargets(targetsFlag)
		if err != nil {
			return err
		}
		if dryRun {
			return printDryRun(cmd.OutOrStdout(), targets, req)
		}
		var errs []error
		for _, target := range targets {
			p, err := envPoster(ctx, target)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", target, err))
				continue
			}
			posters = append(posters, p)
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
	}

	out := cmd.OutOrStdout()
	return publish.Dispatch(ctx, posters, req, func(format string, args ...any) {
		fmt.Fprintf(out, format, args...)
	})
}

func queueChannel(name string) (config.ChannelConfig, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.ChannelConfig{}, nil, err
	}
	ch, ok := cfg.Channel(name)
	if !ok {
		return config.ChannelConfig{}, nil, fmt.Errorf("unknown channel %q", name)
	}
	if ch.Kind != config.KindQueue {
		return config.ChannelConfig{}, nil, fmt.Errorf("channel %q is a %s channel; only queue channels post to a page", name, ch.Kind)
	}
	if imagePath == "" {
		return config.ChannelConfig{}, nil, errors.New("--image is required when posting to a page")
	}
	return ch, cfg, nil
}

func printDryRun(out io.Writer, targets []string, req publish.Request) error {
	for _, target := range targets {
		fmt.Fprintf(out, "[dry-run] would post to %s: %q\n", target, req.Message)
	}
	if req.ImagePath != "" {
		fmt.Fprintf(out, "[dry-run] image: %s (alt: %q)\n", req.ImagePath, req.ImageAlt)
	}
	return nil
}

func resolveMessage(cmd *cobra.Command, args []string) (string, error) {
	message := messageFlag
	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}
	if message = strings.TrimSpace(message); message != "" {
		return message, nil
	}

	stdin := cmd.InOrStdin()
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("message is required")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if message = strings.TrimSpace(string(data)); message == "" {
		return "", errors.New("message is required")
	}
	return message, nil
}

func normalizeTargets(values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, errors.New("choose --channel or at least one --target")
	}

	var result []string
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return slices.Clone(envTargets), nil
		}
		if !slices.Contains(envTargets, raw) {
			return nil, fmt.Errorf("unsupported target %q", raw)
		}
		if !slices.Contains(result, raw) {
			result = append(result, raw)
		}
	}
	if len(result) == 0 {
		return nil, errors.New("no targets selected")
	}
	slices.Sort(result)
	return result, nil
}
