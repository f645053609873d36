// Command tuner runs one tuning document from the command line and prints
// the best configuration it finds.
package main

import (
	"os"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
