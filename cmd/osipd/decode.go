package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/glimte/osip-go/config"
	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/serialization"
	"github.com/glimte/osip-go/telegrams"
	"github.com/spf13/cobra"
)

func newDecodeCommand(configPath *string) *cobra.Command {
	var (
		asHex bool
		file  string
	)

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a telegram and print its fields",
		Long:  "Decode one telegram read from --file or stdin. Trailing newlines are ignored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := loadCodec(*configPath)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", file, err)
				}
				defer f.Close()
				in = f
			}

			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read telegram: %w", err)
			}
			payload := []byte(strings.TrimRight(string(raw), "\r\n"))
			if asHex {
				payload, err = hex.DecodeString(strings.TrimSpace(string(payload)))
				if err != nil {
					return fmt.Errorf("invalid hex input: %w", err)
				}
			}

			return describe(cmd.OutOrStdout(), codec, payload)
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "Input is hex encoded")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the telegram from a file instead of stdin")

	return cmd
}

// loadCodec builds the codec the service would use, without its transports
func loadCodec(configPath string) (*serialization.TelegramCodec, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	layout, err := cfg.HeaderLayout()
	if err != nil {
		return nil, err
	}
	header, err := serialization.NewHeaderCodec(layout)
	if err != nil {
		return nil, err
	}

	builder := serialization.NewRegistryBuilder()
	if err := telegrams.Register(builder); err != nil {
		return nil, err
	}
	if cfg.Service.Variants != "" {
		table, err := config.LoadVariantsFile(cfg.Service.Variants)
		if err != nil {
			return nil, err
		}
		if err := table.Register(builder); err != nil {
			return nil, err
		}
	}

	return serialization.NewTelegramCodec(header, builder.Build()), nil
}

func describe(w io.Writer, codec *serialization.TelegramCodec, payload []byte) error {
	t, err := codec.Decode(payload)
	if err != nil {
		fmt.Fprintf(w, "%-12s %s\n", "Error", contracts.ErrorCode(err))
		fmt.Fprintf(w, "%-12s %v\n", "Detail", err)
		return err
	}

	h := t.Header()
	fmt.Fprintf(w, "%-12s %s\n", "Type", h.Type)
	fmt.Fprintf(w, "%-12s %d\n", "Length", h.Length)
	if h.Sender != "" {
		fmt.Fprintf(w, "%-12s %s\n", "Sender", h.Sender)
	}
	if h.Receiver != "" {
		fmt.Fprintf(w, "%-12s %s\n", "Receiver", h.Receiver)
	}
	fmt.Fprintf(w, "%-12s %s\n", "Sequence", h.Sequence)
	fmt.Fprintf(w, "%-12s %s\n", "Timestamp", h.Timestamp.Format("2006-01-02 15:04:05"))
	if h.ErrorCode != "" {
		fmt.Fprintf(w, "%-12s %s\n", "Error code", h.ErrorCode)
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))

	if rec, ok := t.Body().(*serialization.Record); ok {
		names := make([]string, 0, len(rec.Values))
		for name := range rec.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%-20s %v\n", name, rec.Values[name])
		}
		return nil
	}

	fmt.Fprintf(w, "%+v\n", t.Body())
	return nil
}
