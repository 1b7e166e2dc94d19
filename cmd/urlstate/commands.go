package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arloliu/urlstate/config"
	"github.com/arloliu/urlstate/dictionary"
	"github.com/arloliu/urlstate/format"
	"github.com/arloliu/urlstate/frame"
	"github.com/arloliu/urlstate/state"
)

// cli holds the flags shared by every subcommand.
type cli struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "urlstate",
		Short:         "Encode and decode application state in URL fragments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "urlstate.yaml", "path to the codec configuration")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log pipeline details to stderr")

	root.AddCommand(
		c.encodeCmd(),
		c.decodeCmd(),
		c.inspectCmd(),
		c.dictCmd(),
	)

	return root
}

func (c *cli) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (c *cli) encodeCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a state JSON document into a fragment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			codec, _, err := cfg.NewCodec(c.logger(cmd))
			if err != nil {
				return err
			}

			st, err := readState(cmd, input)
			if err != nil {
				return err
			}

			res, err := codec.Encode(cmd.Context(), st)
			if err != nil {
				return err
			}
			if res.Degraded() {
				fmt.Fprintf(cmd.ErrOrStderr(), "degraded to fit %d characters: %s\n",
					codec.Budget(), strings.Join(res.Applied, ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Fragment)

			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "in", "i", "-", "state JSON file, - for stdin")

	return cmd
}

func readState(cmd *cobra.Command, path string) (state.State, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return state.State{}, err
	}

	var st state.State
	if err := json.Unmarshal(data, &st); err != nil {
		return state.State{}, fmt.Errorf("parse state %s: %w", path, err)
	}

	return st, nil
}

func (c *cli) decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <fragment>",
		Short: "Decode a fragment and print its state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			codec, _, err := cfg.NewCodec(c.logger(cmd))
			if err != nil {
				return err
			}

			res, err := codec.Decode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)

			return enc.Encode(res.State)
		},
	}
}

// header is the JSON form of an envelope without its payload.
type header struct {
	Format            string `json:"format"`
	Compression       string `json:"compression"`
	DictionaryID      string `json:"dictionary_id"`
	DictionaryVersion uint64 `json:"dictionary_version"`
	Checksum          string `json:"checksum,omitempty"`
	PayloadBytes      int    `json:"payload_bytes"`
	FragmentChars     int    `json:"fragment_chars"`
}

func (c *cli) inspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <fragment>",
		Short: "Print a fragment's envelope header without decoding the payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := frame.Unframe(args[0])
			if err != nil {
				return err
			}

			h := header{
				Format:            env.FormatVersion.String(),
				Compression:       env.Compression.String(),
				DictionaryID:      env.DictionaryID,
				DictionaryVersion: env.DictionaryVersion,
				PayloadBytes:      len(env.Payload),
				FragmentChars:     len(strings.TrimPrefix(args[0], "#")),
			}
			if env.FormatVersion == format.FormatV2 {
				h.Checksum = fmt.Sprintf("%08x", env.Checksum)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(h)
			}

			fmt.Fprintf(out, "format:      %s\n", h.Format)
			fmt.Fprintf(out, "compression: %s\n", h.Compression)
			fmt.Fprintf(out, "dictionary:  %s v%d\n", h.DictionaryID, h.DictionaryVersion)
			if h.Checksum != "" {
				fmt.Fprintf(out, "checksum:    %s\n", h.Checksum)
			}
			fmt.Fprintf(out, "payload:     %d bytes\n", h.PayloadBytes)
			fmt.Fprintf(out, "fragment:    %d characters\n", h.FragmentChars)

			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the header as JSON")

	return cmd
}

func (c *cli) dictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Work with content-pack dictionaries",
	}
	cmd.AddCommand(c.dictValidateCmd(), c.dictBuildCmd(), c.dictWatchCmd())

	return cmd
}

func (c *cli) dictValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.yaml>...",
		Short: "Check dictionary files for malformed, colliding or ambiguous codes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				d, err := dictionary.LoadFile(path)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %v\n", err)
					failed++

					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s: %s, %d entries, fingerprint %016x\n",
					path, d, d.Len(), d.Fingerprint())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d dictionary files are invalid", failed, len(args))
			}

			return nil
		},
	}
}

func (c *cli) dictBuildCmd() *cobra.Command {
	var (
		id      string
		version uint64
	)

	cmd := &cobra.Command{
		Use:   "build <phrases.txt>",
		Short: "Assign codes to a phrase list (one phrase per line, most valuable first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			b := dictionary.NewBuilder(id, version)
			for _, line := range strings.Split(string(data), "\n") {
				if phrase := strings.TrimRight(line, "\r"); phrase != "" {
					b.Add(phrase)
				}
			}
			d, err := b.Build()
			if err != nil {
				return err
			}

			out, err := dictionary.Marshal(d)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "content pack id")
	cmd.Flags().Uint64Var(&version, "version", 1, "dictionary version")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func (c *cli) dictWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Register dictionary files as they are published, until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			logger := c.logger(cmd)

			reg, err := dictionary.NewRegistry(dictionary.WithRegistryLogger(logger))
			if err != nil {
				return err
			}
			w, err := dictionary.NewWatcher(cfg.DictionaryDir, reg, dictionary.WithWatchLogger(logger))
			if err != nil {
				return err
			}
			if err := w.Start(cmd.Context()); err != nil {
				return err
			}
			defer w.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s (%d dictionaries)\n", cfg.DictionaryDir, reg.Len())
			<-cmd.Context().Done()
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d, rejected %d\n", w.Loaded(), w.Rejected())

			return nil
		},
	}
}
