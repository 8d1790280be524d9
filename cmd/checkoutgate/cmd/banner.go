package cmd

import (
	"fmt"
	"io"
)

const banner = `
       _               _               _              _
   ___| |__   ___  ___| | _____  _   _| |_ __ _  __ _| |_ ___
  / __| '_ \ / _ \/ __| |/ / _ \| | | | __/ _` + "`" + ` |/ _` + "`" + ` | __/ _ \
 | (__| | | |  __/ (__|   < (_) | |_| | || (_| | (_| | ||  __/
  \___|_| |_|\___|\___|_|\_\___/ \__,_|\__\__, |\__,_|\__\___|
                                          |___/
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Checkout Password Gate - Version %s\x1b[0m\n\n", Version)
}
