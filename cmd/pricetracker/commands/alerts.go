package commands

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"pricetracker-backend/internal/tracker"
)

func init() {
	rootCmd.AddCommand(addAlertCmd)
	rootCmd.AddCommand(showAlertsCmd)
	rootCmd.AddCommand(deleteAlertCmd)
}

func parsePrice(raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(raw), "$"), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", tracker.ErrInvalidTarget, raw)
	}
	return value, nil
}

var addAlertCmd = &cobra.Command{
	Use:   "add-alert <product-url|item-code> <email> <target-price>",
	Short: "Emails <email> once the price falls to or below <target-price>.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parsePrice(args[2])
		if err != nil {
			return err
		}
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		res, err := service.AddAlert(cmd.Context(), args[0], args[1], target)
		if err != nil {
			return err
		}

		fmt.Printf(
			"alert #%d: %s will be notified when %s drops to $%.2f (now $%.2f)\n",
			res.Alert.ID, res.Alert.Email, res.Alert.ItemCode, res.Alert.TargetPrice, res.Product.Price,
		)
		if res.AlreadyMet {
			fmt.Println("warning: the current price already meets the target, the alert fires on the next price change")
		}
		return nil
	},
}

var showAlertsCmd = &cobra.Command{
	Use:   "show-alerts",
	Short: "Lists active price alerts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		alerts, err := service.ListAlerts(cmd.Context())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Id", "Item code", "Product", "Email", "Target", "Current", "Met"})
		for _, a := range alerts {
			met := ""
			if a.Met() {
				met = "yes"
			}
			t.AppendRow(table.Row{
				a.ID,
				a.ItemCode,
				truncate(a.ProductName, 40),
				a.Email,
				fmt.Sprintf("$%.2f", a.TargetPrice),
				fmt.Sprintf("$%.2f", a.CurrentPrice),
				met,
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

var deleteAlertCmd = &cobra.Command{
	Use:   "delete-alert <product-url|item-code>",
	Short: "Deletes every alert of a product.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		code, deleted, err := service.DeleteAlerts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d alerts of %s\n", deleted, code)
		return nil
	},
}
