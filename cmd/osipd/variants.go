package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/glimte/osip-go/serialization"
	"github.com/spf13/cobra"
)

func newVariantsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "variants",
		Short: "List the registered telegram variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := loadCodec(*configPath)
			if err != nil {
				return err
			}
			printVariants(cmd.OutOrStdout(), codec.Registry())
			return nil
		},
	}
}

func printVariants(w io.Writer, registry *serialization.Registry) {
	if registry.Len() == 0 {
		fmt.Fprintln(w, "No variants registered")
		return
	}

	fmt.Fprintf(w, "%-6s %-6s %-8s %s\n", "Type", "Reply", "Key", "Description")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, telegramType := range registry.ListTypes() {
		v, err := registry.Lookup(telegramType)
		if err != nil {
			continue
		}
		key := "default"
		if v.CorrelationKey != nil {
			key = "custom"
		}
		fmt.Fprintf(w, "%-6s %-6t %-8s %s\n", v.Type, v.RequiresReply, key, v.Description)
	}
}
