package service

import (
	"fmt"
	"io"

	"aphorism/src/internal/domain"
)

func printBanner(w io.Writer, b domain.Banner) {
	fmt.Fprintf(w, "🚀 %s server running at:\n", b.Name)
	fmt.Fprintf(w, "   Local: %s\n", b.LocalURL)
	if b.NetworkURL != "" {
		fmt.Fprintf(w, "   Network: %s\n", b.NetworkURL)
		fmt.Fprintf(w, "\n📱 To test on mobile devices:\n")
		fmt.Fprintf(w, "   1. Make sure your phone is on the same WiFi network\n")
		fmt.Fprintf(w, "   2. Open the Network URL above on your phone\n")
	} else {
		fmt.Fprintf(w, "\n🔒 Bound to %s only: other devices cannot reach this server.\n", b.BoundTo)
		fmt.Fprintf(w, "   Unset HOST to test on mobile devices.\n")
	}
	if b.LiveReload {
		fmt.Fprintf(w, "\n🔄 Live reload is on: add <script src=\"%s\"></script> to your page\n", domain.LiveReloadScript)
	}
	fmt.Fprintf(w, "\n🛑 Press Ctrl+C to stop the server\n")
}
