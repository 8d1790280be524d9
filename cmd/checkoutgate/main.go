package main

import "github.com/jmcleod/checkoutgate/cmd/checkoutgate/cmd"

func main() {
	cmd.Execute()
}
