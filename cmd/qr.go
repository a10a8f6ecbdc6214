package main

import (
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
)

// DisplayQRCode prints url as a terminal QR code with a plain-text fallback,
// for opening the preview on another device.
func DisplayQRCode(w io.Writer, url string) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "  Preview: %s\n", url)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintf(w, "  %s\n", url)
	fmt.Fprintln(w, "")
}
