package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(showProductsCmd)
	rootCmd.AddCommand(showHistoryCmd)
	rootCmd.AddCommand(sendSnapshotCmd)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

var showProductsCmd = &cobra.Command{
	Use:   "show-products",
	Short: "Lists every scraped product, most recently changed first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		products, err := service.ListProducts(cmd.Context())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Item code", "Name", "Price", "Observations", "Last change"})
		for _, p := range products {
			changed := p.CreatedAt
			if p.UpdatedAt != nil {
				changed = *p.UpdatedAt
			}
			t.AppendRow(table.Row{
				p.ItemCode,
				truncate(p.Name, 50),
				fmt.Sprintf("$%.2f", p.Price),
				p.Observations,
				changed.Format(time.DateTime),
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

var showHistoryCmd = &cobra.Command{
	Use:   "show-history <product-url|item-code>",
	Short: "Prints the price history of a product.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		p, history, err := service.PriceHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n", p.Name, p.ItemCode)
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Time", "Price"})
		for _, point := range history {
			t.AppendRow(table.Row{point.Timestamp.Format(time.DateTime), fmt.Sprintf("$%.2f", point.Price)})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

var sendSnapshotCmd = &cobra.Command{
	Use:   "send-snapshot <product-url|item-code> <email>",
	Short: "Emails the stored details of a product.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		err = service.SendSnapshot(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("sent %s to %s\n", args[0], args[1])
		return nil
	},
}
