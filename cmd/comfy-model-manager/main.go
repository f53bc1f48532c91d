package main

import (
	"go-comfy-model-manager/cmd/comfy-model-manager/cmd"
	"go-comfy-model-manager/internal/api"
)

func main() {
	// Ensure all API log file buffers are flushed and files closed on exit
	defer api.CloseAllLoggingTransports()

	cmd.Execute()
}
