package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(addUrlCmd)
	rootCmd.AddCommand(removeUrlCmd)
	rootCmd.AddCommand(showUrlsCmd)
}

var addUrlCmd = &cobra.Command{
	Use:   "add-url <product-url>",
	Short: "Starts tracking a product page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		res, err := service.AddURL(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (%s)\n", res.ItemCode, res.Url, res.Outcome)
		return nil
	},
}

var removeUrlCmd = &cobra.Command{
	Use:   "remove-url <product-url|item-code>",
	Short: "Stops tracking a product, its price history is kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		code, err := service.RemoveURL(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("stopped tracking %s\n", code)
		return nil
	},
}

var showUrlsCmd = &cobra.Command{
	Use:   "show-urls",
	Short: "Lists the tracked product pages.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		urls, err := service.ListURLs(cmd.Context())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Id", "Item code", "Url", "Added", "Reactivated"})
		for _, u := range urls {
			reactivated := ""
			if u.ReactivatedAt != nil {
				reactivated = u.ReactivatedAt.Format(time.DateTime)
			}
			t.AppendRow(table.Row{u.ID, u.ItemCode, u.Url, u.AddedAt.Format(time.DateTime), reactivated})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
