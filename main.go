// Package main provides the speechstitch command line tool.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/maauso/speechstitch/internal/bootstrap"
	"github.com/maauso/speechstitch/internal/config"
	"github.com/maauso/speechstitch/internal/job"
	"github.com/maauso/speechstitch/internal/speech"
	"github.com/maauso/speechstitch/internal/text"
)

var (
	inPath           string
	outPath          string
	voicePath        string
	format           string
	maxChunkSize     int
	overlapSentences int

	rootCmd = &cobra.Command{
		Use:           "speechstitch",
		Short:         "Synthesize long texts by chunking, parallel synthesis and stitching",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	synthCmd = &cobra.Command{
		Use:   "synth",
		Short: "Synthesize a text file into a single audio track",
		Long: "Synthesize reads text from --in (or stdin with -) and writes the " +
			"stitched track to --out. The engine and pipeline are configured " +
			"from the same environment variables as the server.",
		Args: cobra.NoArgs,
		RunE: runSynth,
	}

	chunksCmd = &cobra.Command{
		Use:   "chunks",
		Short: "Print the chunk plan for a text file without synthesizing",
		Args:  cobra.NoArgs,
		RunE:  runChunks,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{synthCmd, chunksCmd} {
		cmd.Flags().StringVarP(&inPath, "in", "i", "-", "input text file, - for stdin")
		cmd.Flags().IntVar(&maxChunkSize, "max-chunk-size", 0, "override MAX_CHUNK_SIZE")
		cmd.Flags().IntVar(&overlapSentences, "overlap", -1, "override OVERLAP_SENTENCES")
	}
	synthCmd.Flags().StringVarP(&outPath, "out", "o", "", "output audio file (required)")
	synthCmd.Flags().StringVar(&voicePath, "voice", "", "voice prompt audio file (WAV or MP3)")
	synthCmd.Flags().StringVarP(&format, "format", "f", "", "output format: wav or mp3 (default from --out extension)")
	_ = synthCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(synthCmd, chunksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runSynth(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	input, err := readInput(inPath, cmd.InOrStdin())
	if err != nil {
		return err
	}
	pcfg, err := overrides(cfg)
	if err != nil {
		return err
	}

	in := job.Input{Text: input, Config: &pcfg, Format: outputFormat(format, outPath)}
	if voicePath != "" {
		in.VoicePrompt, err = os.ReadFile(voicePath)
		if err != nil {
			return fmt.Errorf("read voice prompt: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = deps.Shutdown(sctx)
	}()

	start := time.Now()
	out, err := deps.Service.Synthesize(ctx, in)
	if err != nil {
		return fmt.Errorf("synthesize (%s stage): %w", speech.StageOf(err), err)
	}
	if err := os.WriteFile(outPath, out.Audio, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %s, %.1fs of audio from %s characters in %d chunks (took %s)\n",
		outPath,
		humanize.Bytes(uint64(len(out.Audio))),
		out.Result.TotalDurationSeconds,
		humanize.Comma(int64(out.Result.TotalCharacters)),
		out.Result.ChunksProcessed,
		time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func runChunks(cmd *cobra.Command, _ []string) error {
	input, err := readInput(inPath, cmd.InOrStdin())
	if err != nil {
		return err
	}
	pcfg, err := overrides(nil)
	if err != nil {
		return err
	}

	chunks, err := text.Chunk(input, pcfg)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, c := range chunks {
		flag := ""
		if c.Oversized {
			flag = " oversized"
		}
		fmt.Fprintf(w, "%4d  %5d chars  overlap=%d%s  %q\n",
			c.Index, c.Len(), c.LeadingOverlapSentenceCount, flag, preview(c.Body(), 60))
	}

	st := text.Info(chunks)
	fmt.Fprintf(w, "\n%d chunks, %s characters, avg %s, min %d, max %d, %d oversized\n",
		st.TotalChunks,
		humanize.Comma(int64(st.TotalCharacters)),
		humanize.FormatFloat("#,###.#", st.AvgChunkSize),
		st.MinChunkSize,
		st.MaxChunkSize,
		st.Oversized,
	)
	return nil
}

// overrides applies the command line flags over the environment pipeline
// configuration. A nil cfg starts from the defaults.
func overrides(cfg *config.Config) (speech.Config, error) {
	base := speech.DefaultConfig()
	if cfg != nil {
		var err error
		if base, err = cfg.PipelineConfig(); err != nil {
			return speech.Config{}, err
		}
	}
	if maxChunkSize > 0 {
		base.MaxChunkSize = maxChunkSize
	}
	if overlapSentences >= 0 {
		base.OverlapSentences = overlapSentences
	}
	if err := base.Validate(); err != nil {
		return speech.Config{}, err
	}
	return base, nil
}

func readInput(path string, stdin io.Reader) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(b), nil
}

func outputFormat(flag, out string) string {
	if flag != "" {
		return flag
	}
	if strings.EqualFold(filepath.Ext(out), ".mp3") {
		return job.FormatMP3
	}
	return job.FormatWAV
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
