// Package main provides the entry point for the Herald CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ityeti/herald/internal/announce"
	"github.com/ityeti/herald/internal/audio"
	"github.com/ityeti/herald/internal/config"
	"github.com/ityeti/herald/internal/controller"
	"github.com/ityeti/herald/internal/queue"
	"github.com/ityeti/herald/internal/synth"
	"github.com/ityeti/herald/internal/synth/local"
	"github.com/ityeti/herald/internal/synth/neural"
	"github.com/ityeti/herald/internal/watch"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile    string
	engine        string
	voice         string
	rateWPM       int
	serverURL     string
	lineDelayMs   int
	fromClipboard bool
	debug         bool

	rootCmd = &cobra.Command{
		Use:   "herald [TEXT]",
		Short: "Read text aloud, one line at a time",
		Long: "Herald reads text aloud through a neural TTS service or the platform\n" +
			"speech engine, announcing failures out loud instead of going silent.\n" +
			"Text comes from the arguments, a pipe, or the clipboard.",
		SilenceUsage: true,
		Args:         cobra.ArbitraryArgs,
		RunE:         executeSpeak,
	}

	ocrCommand  string
	intervalSec float64
	threshold   float64

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch a text source and read changes aloud",
		Long: "Poll the clipboard (or an OCR capture command) on a fixed interval\n" +
			"and re-read whenever enough of the text has changed.",
		Args: cobra.NoArgs,
		RunE: executeWatch,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default herald.yaml in the user config dir)")
	pf.StringVarP(&engine, "engine", "e", "", "synthesis engine (neural or local)")
	pf.StringVarP(&voice, "voice", "v", "", "voice name")
	pf.IntVarP(&rateWPM, "rate", "r", 0, "speaking rate in words per minute")
	pf.StringVar(&serverURL, "server", "", "neural TTS service URL")
	pf.IntVar(&lineDelayMs, "line-delay", -1, "pause between lines in milliseconds")
	pf.BoolVar(&debug, "debug", false, "verbose logging")

	rootCmd.Flags().BoolVarP(&fromClipboard, "clipboard", "c", false, "read the clipboard contents")

	watchCmd.Flags().StringVar(&ocrCommand, "capture", "", "capture command whose stdout is the watched text (default: clipboard)")
	watchCmd.Flags().Float64VarP(&intervalSec, "interval", "i", 0, "poll interval in seconds")
	watchCmd.Flags().Float64VarP(&threshold, "threshold", "t", -1, "change fraction that triggers a read (0..1)")

	rootCmd.AddCommand(watchCmd)
}

func setupLog() {
	log.SetReportTimestamp(false)
	if debug || os.Getenv("HERALD_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
		log.SetTimeFormat(time.TimeOnly)
		return
	}
	log.SetLevel(log.WarnLevel)
}

// resolveSettings layers command-line flags over the loaded configuration.
func resolveSettings(cmd *cobra.Command) (config.Settings, error) {
	settings, err := config.Load(configFile)
	if err != nil {
		return settings, err
	}
	flags := cmd.Flags()
	if flags.Changed("engine") {
		settings.Engine = strings.ToLower(engine)
	}
	if flags.Changed("voice") {
		settings.Voice = voice
	}
	if flags.Changed("rate") {
		settings.RateWPM = config.ClampRate(rateWPM)
	}
	if flags.Changed("server") {
		settings.ServerURL = serverURL
	}
	if flags.Changed("line-delay") && lineDelayMs >= 0 {
		settings.LineDelayMs = lineDelayMs
	}
	if settings.Engine != config.EngineLocal && settings.Engine != config.EngineNeural {
		return settings, fmt.Errorf("unknown engine %q", settings.Engine)
	}
	return settings, nil
}

// buildController assembles the backends, player and announcer around the
// loaded settings.
func buildController(settings config.Settings) (*controller.Controller, error) {
	var speaker synth.Speaker
	if lb, err := local.New(settings.Voice, settings.RateWPM); err == nil {
		speaker = lb
	} else if settings.Engine == config.EngineLocal {
		return nil, err
	} else {
		log.Warn("no local speech engine, fallback unavailable", "err", err)
	}

	var synthesizer synth.Synthesizer
	player := audio.NewPlayer()
	if settings.Engine == config.EngineNeural {
		nb, err := neural.New(settings.ServerURL, settings.Voice, settings.RateWPM,
			neural.WithTimeout(time.Duration(settings.TimeoutSec)*time.Second))
		if err != nil {
			return nil, err
		}
		synthesizer = nb
	}

	return controller.New(controller.Options{
		Synthesizer: synthesizer,
		Speaker:     speaker,
		Player:      playerAdapter{player},
		Announcer:   announce.New(speaker, player),
		Settings:    settings,
	}), nil
}

// playerAdapter narrows the audio player's concrete playback type to the
// controller's interface.
type playerAdapter struct {
	player *audio.Player
}

func (a playerAdapter) Start(asset *synth.Asset) (controller.Playback, error) {
	pb, err := a.player.Start(asset)
	if err != nil {
		return nil, err
	}
	return pb, nil
}

// gatherText resolves the input text: clipboard, arguments, or a pipe.
func gatherText(args []string) (string, queue.Source, error) {
	if fromClipboard {
		text, err := clipboard.ReadAll()
		if err != nil {
			return "", queue.SourceClipboard, fmt.Errorf("clipboard: %w", err)
		}
		return text, queue.SourceClipboard, nil
	}
	if len(args) > 0 {
		return strings.Join(args, "\n"), queue.SourceSelection, nil
	}
	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0) {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", queue.SourceSelection, fmt.Errorf("read stdin: %w", err)
		}
		return string(b), queue.SourceSelection, nil
	}
	return "", queue.SourceSelection, errors.New("nothing to read: pass text, pipe it in, or use --clipboard")
}

func executeSpeak(cmd *cobra.Command, args []string) error {
	setupLog()
	settings, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	text, source, err := gatherText(args)
	if err != nil {
		return err
	}

	c, err := buildController(settings)
	if err != nil {
		return err
	}
	defer c.Close()

	done := make(chan struct{})
	var once sync.Once
	c.OnStateChange(func(ev controller.Event) {
		if ev.State == controller.StateIdle {
			once.Do(func() { close(done) })
		}
	})

	if err := c.Speak(text, source); err != nil {
		return err
	}
	if c.State() == controller.StateIdle {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return c.Stop()
	}
}

func executeWatch(cmd *cobra.Command, args []string) error {
	setupLog()
	settings, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("interval") && intervalSec > 0 {
		settings.AutoReadIntervalSec = intervalSec
	}
	if cmd.Flags().Changed("threshold") && threshold >= 0 && threshold <= 1 {
		settings.AutoReadChangeThreshold = threshold
	}

	c, err := buildController(settings)
	if err != nil {
		return err
	}
	defer c.Close()

	var source watch.TextSource = watch.ClipboardSource{}
	speakSource := queue.SourceClipboard
	if ocrCommand != "" {
		source = watch.CommandSource{Argv: strings.Fields(ocrCommand)}
		speakSource = queue.SourceOCR
	}

	w := watch.New(source, func(text string) {
		if err := c.Speak(text, speakSource); err != nil {
			log.Error("speak request rejected", "err", err)
		}
	}, time.Duration(settings.AutoReadIntervalSec*float64(time.Second)), settings.AutoReadChangeThreshold)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w.ReadNow(ctx)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return c.Stop()
}
