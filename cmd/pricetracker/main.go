package main

import (
	"pricetracker-backend/cmd/pricetracker/commands"
	"pricetracker-backend/internal/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
