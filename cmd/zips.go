package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen/internal/zipcode"
)

var zipsCmd = &cobra.Command{
	Use:   "zips <start> <end>",
	Short: "Print the zip codes a grid campaign would search",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return printZips(os.Stdout, args[0], args[1])
	},
}

func printZips(w io.Writer, start, end string) error {
	zips, err := zipcode.GenerateRange(start, end)
	if err != nil {
		return err
	}
	for _, z := range zips {
		fmt.Fprintln(w, z)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(zipsCmd)
}
